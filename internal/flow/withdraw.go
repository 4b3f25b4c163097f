package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/session"
)

// Casino id under which the backend remembers the withdrawal phone.
const phoneAccountKey = "phone"

// beginWithdraw has no duplicate-request guard: the backend exposes a pending
// check for deposits only.
func (e *Engine) beginWithdraw(ctx context.Context, ev Event) {
	e.endSession(ctx, ev.UserID, session.StepCancelled)

	snap := e.settings.Snapshot(ctx)
	if snap.Pause {
		e.send(ctx, ev.ChatID, pauseText(snap.MaintenanceMessage), nil)
		return
	}
	if !snap.WithdrawalsEnabled {
		e.send(ctx, ev.ChatID, textWithdrawalsClosed, mainMenuKeyboard())
		return
	}

	options := snap.WithdrawBookmakers()
	if len(options) == 0 {
		e.send(ctx, ev.ChatID, textNoBookmakers, mainMenuKeyboard())
		return
	}

	s := e.sessions.Start(ev.UserID, session.KindWithdraw, ev.ChatID)
	e.logger.WithFields(logging.Fields{
		"event":      "withdraw_started",
		"user_id":    ev.UserID,
		"session_id": s.ID,
	}).Info("withdraw dialog opened")

	e.send(ctx, ev.ChatID, textWithdrawTitle, bookmakerKeyboard(options))
}

func (e *Engine) withdrawBookmaker(ctx context.Context, s session.Session, ev Event) {
	snap := e.settings.Snapshot(ctx)
	b, ok := e.selectBookmaker(ctx, ev, snap.WithdrawBookmakers())
	if !ok {
		return
	}
	if !snap.WithdrawEnabled(b.Key) {
		e.send(ctx, ev.ChatID, fmt.Sprintf(textWithdrawDisabled, b.Title), bookmakerKeyboard(snap.WithdrawBookmakers()))
		return
	}

	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.Bookmaker = b.Key
		cur.Step = session.StepEnterPhone
	})

	saved := e.savedAccount(ctx, s.UserID, phoneAccountKey)
	e.send(ctx, ev.ChatID, promptPhone(b.Key), cancelKeyboard(saved))
}

func (e *Engine) withdrawPhone(ctx context.Context, s session.Session, ev Event) {
	phone, err := domain.NormalizePhone(ev.Text)
	if err != nil {
		e.send(ctx, ev.ChatID, textInvalidPhone, nil)
		return
	}

	e.saveAccount(ctx, s.UserID, phoneAccountKey, phone)
	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.Phone = phone
		cur.Step = session.StepAwaitQRImage
	})

	e.send(ctx, ev.ChatID, textSendQR, cancelKeyboard())
}

func (e *Engine) withdrawQR(ctx context.Context, s session.Session, ev Event) {
	if ev.PhotoFileID == "" {
		e.send(ctx, ev.ChatID, textSendQR, nil)
		return
	}

	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.QRFileID = ev.PhotoFileID
		cur.Step = session.StepEnterPlayerID
	})

	saved := e.savedAccount(ctx, s.UserID, s.Payload.Bookmaker)
	e.send(ctx, ev.ChatID, promptWithdrawPlayerID(s.Payload.Bookmaker), cancelKeyboard(saved))
}

func (e *Engine) withdrawPlayerID(ctx context.Context, s session.Session, ev Event) {
	playerID, err := domain.ValidatePlayerID(ev.Text)
	if err != nil {
		e.send(ctx, ev.ChatID, textInvalidPlayerID, nil)
		return
	}

	e.saveAccount(ctx, s.UserID, s.Payload.Bookmaker, playerID)
	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.PlayerID = playerID
		cur.Step = session.StepEnterCode
	})

	e.send(ctx, ev.ChatID, withdrawInstructions(s.Payload.Bookmaker), cancelKeyboard())
}

func (e *Engine) withdrawCode(ctx context.Context, s session.Session, ev Event) {
	code, err := domain.ValidateWithdrawCode(ev.Text)
	if err != nil {
		e.send(ctx, ev.ChatID, textInvalidCode, nil)
		return
	}

	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.Code = code
		cur.Step = session.StepCheckAmount
	})
	s.Payload.Code = code

	log := e.logger.WithFields(logging.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
		"bookmaker":  s.Payload.Bookmaker,
	})

	progress := e.send(ctx, ev.ChatID, textCheckingCode, &Keyboard{Remove: true})
	amount, err := e.backend.WithdrawCheck(ctx, s.Payload.Bookmaker, s.Payload.PlayerID, code)
	e.delete(ctx, ev.ChatID, progress)

	if err == nil && !amount.IsPositive() {
		err = backend.ErrAmountNotFound
	}
	if err != nil {
		log.WithField("event", "withdraw_check_failed").WithError(err).Warn("withdrawal code rejected")
		text := textWithdrawCheckKO
		var apiErr *backend.APIError
		switch {
		case errors.Is(err, backend.ErrAmountNotFound):
			text = textWithdrawNoSum
		case errors.As(err, &apiErr) && apiErr.Message != "":
			text = "⚠️ " + apiErr.Message
		}
		e.abort(ctx, s.UserID, ev.ChatID, text)
		return
	}

	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.Amount = amount
		cur.Step = session.StepSubmit
	})
	s.Payload.Amount = amount

	e.submitWithdraw(ctx, s, ev, log)
}

func (e *Engine) submitWithdraw(ctx context.Context, s session.Session, ev Event, log *logrus.Entry) {
	p := s.Payload

	// Everything that can fail locally happens before the cashdesk payout.
	qrImage, err := e.transport.Download(ctx, p.QRFileID)
	if err != nil {
		log.WithField("event", "withdraw_qr_download_failed").WithError(err).Warn("failed to download wallet QR")
		e.abort(ctx, s.UserID, ev.ChatID, textPhotoFailed)
		return
	}
	qrPhoto := dataURL(qrImage)

	if p.Bookmaker == domain.Bookmaker1xBet {
		if err := e.backend.WithdrawExecute(ctx, p.Bookmaker, p.PlayerID, p.Code, p.Amount); err != nil {
			log.WithField("event", "withdraw_execute_failed").WithError(err).Warn("cashdesk payout failed")
			e.abort(ctx, s.UserID, ev.ChatID, failureText(err, "❌ ", textGenericError))
			return
		}
	}

	id, err := e.backend.CreatePayment(ctx, backend.PaymentRequest{
		Type:      backend.PaymentWithdraw,
		UserID:    s.UserID,
		Bookmaker: p.Bookmaker,
		Amount:    p.Amount,
		Bank:      backend.WithdrawBank,
		PlayerID:  p.PlayerID,
		Phone:     p.Phone,
		SiteCode:  p.Code,
		QRPhoto:   qrPhoto,
		Username:  ev.Profile.Username,
		FirstName: ev.Profile.FirstName,
		LastName:  ev.Profile.LastName,
	})
	if err == nil && id == "" {
		err = errors.New("backend returned no request id")
	}
	if err != nil {
		log.WithField("event", "withdraw_submit_failed").WithError(err).Warn("withdrawal submission failed")
		e.abort(ctx, s.UserID, ev.ChatID, failureText(err, "❌ ", "❌ Ошибка создания заявки. Попробуйте еще раз."))
		return
	}

	e.endSession(ctx, s.UserID, session.StepComplete)

	confirmation := e.send(ctx, ev.ChatID, withdrawCreatedText(p.Bookmaker, p.PlayerID, p.Phone, p.Amount), nil)
	if confirmation != 0 {
		if err := e.backend.AttachMessage(ctx, id, confirmation); err != nil {
			log.WithFields(logging.Fields{
				"event":      "withdraw_attach_failed",
				"request_id": string(id),
			}).WithError(err).Warn("failed to attach confirmation message")
		}
	}

	e.record(ctx, domain.RequestRecord{
		RequestID: string(id),
		UserID:    s.UserID,
		Kind:      domain.RequestWithdraw,
		Bookmaker: p.Bookmaker,
		PlayerID:  p.PlayerID,
		Bank:      backend.WithdrawBank,
		Phone:     p.Phone,
		SessionID: s.ID,
	}, p.Amount)

	log.WithFields(logging.Fields{
		"event":      "withdraw_submitted",
		"request_id": string(id),
		"amount":     p.Amount.StringFixed(2),
	}).Info("withdrawal request created")

	e.mainMenu(ctx, ev.ChatID)
}
