package flow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/countdown"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/session"
)

// pendingDeposit is the resumable part of a deposit kept in the pending
// store while the user pays.
type pendingDeposit struct {
	Amount    decimal.Decimal `json:"amount"`
	PlayerID  string          `json:"player_id"`
	Bookmaker string          `json:"bookmaker"`
	ChatID    int64           `json:"chat_id,omitempty"`
}

func (p pendingDeposit) valid() bool {
	return p.Amount.IsPositive() && p.PlayerID != "" && p.Bookmaker != ""
}

func (e *Engine) beginDeposit(ctx context.Context, ev Event) {
	e.endSession(ctx, ev.UserID, session.StepCancelled)

	snap := e.settings.Snapshot(ctx)
	if snap.Pause {
		e.send(ctx, ev.ChatID, pauseText(snap.MaintenanceMessage), nil)
		return
	}
	if !snap.DepositsEnabled {
		e.send(ctx, ev.ChatID, textDepositsClosed, mainMenuKeyboard())
		return
	}

	hasPending, err := e.backend.CheckPendingDeposit(ctx, ev.UserID)
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"event":   "pending_check_failed",
			"user_id": ev.UserID,
		}).WithError(err).Warn("duplicate deposit check failed, continuing")
	}
	if hasPending {
		e.send(ctx, ev.ChatID, textPendingDeposit, mainMenuKeyboard())
		return
	}

	options := snap.DepositBookmakers()
	if len(options) == 0 {
		e.send(ctx, ev.ChatID, textNoBookmakers, mainMenuKeyboard())
		return
	}

	s := e.sessions.Start(ev.UserID, session.KindDeposit, ev.ChatID)
	e.logger.WithFields(logging.Fields{
		"event":      "deposit_started",
		"user_id":    ev.UserID,
		"session_id": s.ID,
	}).Info("deposit dialog opened")

	e.send(ctx, ev.ChatID, textDepositTitle, bookmakerKeyboard(options))
}

func (e *Engine) depositBookmaker(ctx context.Context, s session.Session, ev Event) {
	snap := e.settings.Snapshot(ctx)
	b, ok := e.selectBookmaker(ctx, ev, snap.DepositBookmakers())
	if !ok {
		return
	}
	if !snap.DepositEnabled(b.Key) {
		e.send(ctx, ev.ChatID, fmt.Sprintf(textDepositDisabled, b.Title), bookmakerKeyboard(snap.DepositBookmakers()))
		return
	}

	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.Bookmaker = b.Key
		cur.Step = session.StepEnterPlayerID
	})

	saved := e.savedAccount(ctx, s.UserID, b.Key)
	e.send(ctx, ev.ChatID, promptPlayerID(b.Key), cancelKeyboard(saved))
}

func (e *Engine) depositPlayerID(ctx context.Context, s session.Session, ev Event) {
	playerID, err := domain.ValidatePlayerID(ev.Text)
	if err != nil {
		e.send(ctx, ev.ChatID, textInvalidPlayerID, nil)
		return
	}

	e.saveAccount(ctx, s.UserID, s.Payload.Bookmaker, playerID)
	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.PlayerID = playerID
		cur.Step = session.StepEnterAmount
	})

	e.send(ctx, ev.ChatID, promptAmount(s.Payload.Bookmaker, playerID), amountKeyboard())
}

func (e *Engine) depositAmount(ctx context.Context, s session.Session, ev Event) {
	amount, err := domain.ParseAmount(ev.Text)
	if err != nil {
		e.send(ctx, ev.ChatID, textInvalidAmount, nil)
		return
	}
	if err := domain.CheckDepositAmount(s.Payload.Bookmaker, amount); err != nil {
		e.send(ctx, ev.ChatID, amountRangeText(s.Payload.Bookmaker), nil)
		return
	}

	// The random tyiyn suffix lets operators match the transfer to the request.
	amount = amount.Truncate(0).Add(decimal.New(e.tyiyn(), -2))

	log := e.logger.WithFields(logging.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
		"bookmaker":  s.Payload.Bookmaker,
	})

	progress := e.send(ctx, ev.ChatID, textGenerating, &Keyboard{Remove: true})
	defer e.delete(ctx, ev.ChatID, progress)

	result, err := e.backend.GenerateQR(ctx, backend.QRRequest{
		Amount:   amount,
		PlayerID: s.Payload.PlayerID,
		Bank:     backend.QRBank,
	})
	if err != nil {
		log.WithField("event", "deposit_qr_failed").WithError(err).Warn("payment link generation failed")
		e.abort(ctx, s.UserID, ev.ChatID, textQRFailed)
		return
	}
	amount = result.Amount

	snap := e.settings.Snapshot(ctx)
	kb, ok := bankKeyboard(result.BankURLs, snap.DepositBanks)
	if !ok {
		log.WithField("event", "deposit_no_links").Warn("backend returned no usable bank links")
		e.abort(ctx, s.UserID, ev.ChatID, textNoBankLinks)
		return
	}

	caption := paymentCaption(amount, s.Payload.PlayerID, countdown.Format(e.depositTimeout))
	messageID, isPhoto, err := e.sendPayment(ctx, ev.ChatID, qrContent(result.BankURLs), caption, kb)
	if err != nil {
		e.transportFailed("deposit_payment_send_failed", ev.ChatID, err)
		e.abort(ctx, s.UserID, ev.ChatID, textGenericError)
		return
	}

	enabled := append([]string(nil), snap.DepositBanks...)
	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Payload.Amount = amount
		cur.Payload.BankLinks = result.BankURLs
		cur.Payload.DepositBanks = enabled
		cur.Payload.PaymentMessageID = messageID
		cur.Payload.PaymentIsPhoto = isPhoto
		cur.Step = session.StepAwaitPayment
	})

	data, err := json.Marshal(pendingDeposit{
		Amount:    amount,
		PlayerID:  s.Payload.PlayerID,
		Bookmaker: s.Payload.Bookmaker,
		ChatID:    ev.ChatID,
	})
	if err == nil {
		e.pending.Set(ctx, s.UserID, data, e.now().Add(e.depositTimeout))
	}

	if err := e.startCountdown(ctx, s.UserID, s.ID); err != nil {
		log.WithField("event", "deposit_timer_failed").WithError(err).Error("failed to start payment countdown")
	}

	log.WithFields(logging.Fields{
		"event":  "deposit_awaiting_payment",
		"amount": amount.StringFixed(2),
	}).Info("payment links shown")
}

// sendPayment posts the QR image with the caption, falling back to a text
// message when the image cannot be produced.
func (e *Engine) sendPayment(ctx context.Context, chatID int64, content, caption string, kb *Keyboard) (int, bool, error) {
	png, err := e.renderQR(content)
	if err == nil {
		id, sendErr := e.transport.SendPhoto(ctx, chatID, png, caption, kb)
		if sendErr == nil {
			return id, true, nil
		}
		err = sendErr
	}
	e.logger.WithFields(logging.Fields{
		"event":   "deposit_qr_image_failed",
		"chat_id": chatID,
	}).WithError(err).Warn("sending payment links without QR image")

	id, err := e.transport.SendText(ctx, chatID, caption, kb)
	return id, false, err
}

func (e *Engine) startCountdown(ctx context.Context, userID int64, sessionID string) error {
	alive := func() bool { return e.sessions.Alive(userID, sessionID) }

	return e.timers.Start(ctx, userID, e.depositTimeout, alive, countdown.Handlers{
		// Ticks run while Cancel waits on them, so they must not take the
		// user lock.
		OnTick: func(ctx context.Context, _ time.Duration, display string) error {
			s, ok := e.sessions.Get(userID)
			if !ok || s.ID != sessionID || !s.Payload.HasPaymentMessage() {
				return nil
			}
			kb, _ := bankKeyboard(s.Payload.BankLinks, s.Payload.DepositBanks)
			caption := paymentCaption(s.Payload.Amount, s.Payload.PlayerID, display)
			if s.Payload.PaymentIsPhoto {
				return e.transport.EditCaption(ctx, s.Payload.ChatID, s.Payload.PaymentMessageID, caption, kb)
			}
			return e.transport.EditText(ctx, s.Payload.ChatID, s.Payload.PaymentMessageID, caption, kb)
		},
		OnExpire: func(ctx context.Context) {
			e.withLock(userID, func() { e.expire(ctx, userID, sessionID) })
		},
		OnFail: func(ctx context.Context, err error) {
			e.withLock(userID, func() { e.timerFailed(ctx, userID, sessionID, err) })
		},
	})
}

func (e *Engine) expire(ctx context.Context, userID int64, sessionID string) {
	if !e.sessions.Alive(userID, sessionID) {
		return
	}
	s, ok := e.endSession(ctx, userID, session.StepExpired)
	if !ok {
		return
	}

	e.logger.WithFields(logging.Fields{
		"event":      "deposit_expired",
		"user_id":    userID,
		"session_id": sessionID,
	}).Info("payment time ran out")

	e.send(ctx, s.Payload.ChatID, textDepositExpiry, nil)
	e.mainMenu(ctx, s.Payload.ChatID)
}

func (e *Engine) timerFailed(ctx context.Context, userID int64, sessionID string, err error) {
	if !e.sessions.Alive(userID, sessionID) {
		return
	}
	s, ok := e.endSession(ctx, userID, session.StepCancelled)
	if !ok {
		return
	}

	e.logger.WithFields(logging.Fields{
		"event":      "deposit_timer_aborted",
		"user_id":    userID,
		"session_id": sessionID,
	}).WithError(err).Warn("payment message could not be refreshed")

	e.send(ctx, s.Payload.ChatID, textTimerFailed, nil)
	e.mainMenu(ctx, s.Payload.ChatID)
}

func (e *Engine) depositProof(ctx context.Context, s session.Session, ev Event) {
	if ev.PhotoFileID == "" {
		e.send(ctx, ev.ChatID, textSendReceipt, nil)
		return
	}

	e.timers.Cancel(s.UserID)
	e.sessions.Update(s.UserID, func(cur *session.Session) {
		cur.Step = session.StepAwaitProof
	})
	e.submitDeposit(ctx, s, ev)
}

// resumeDeposit rebuilds a deposit from the pending store when a receipt
// arrives after the in-memory session was lost.
func (e *Engine) resumeDeposit(ctx context.Context, ev Event) {
	raw, ok := e.pending.Get(ctx, ev.UserID)
	var saved pendingDeposit
	if ok && json.Unmarshal(raw, &saved) == nil && saved.valid() {
		chatID := saved.ChatID
		if chatID == 0 {
			chatID = ev.ChatID
		}
		s := e.sessions.Restore(ev.UserID, session.KindDeposit, session.StepAwaitProof, session.Payload{
			ChatID:    chatID,
			Bookmaker: saved.Bookmaker,
			PlayerID:  saved.PlayerID,
			Amount:    saved.Amount,
		})
		e.logger.WithFields(logging.Fields{
			"event":      "deposit_resumed",
			"user_id":    ev.UserID,
			"session_id": s.ID,
		}).Info("deposit restored from pending store")

		e.submitDeposit(ctx, s, ev)
		return
	}

	if ok {
		e.pending.Clear(ctx, ev.UserID)
	}
	e.send(ctx, ev.ChatID, textNoActiveRequest, mainMenuKeyboard())
}

func (e *Engine) submitDeposit(ctx context.Context, s session.Session, ev Event) {
	log := e.logger.WithFields(logging.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
		"bookmaker":  s.Payload.Bookmaker,
	})

	progress := e.send(ctx, ev.ChatID, textProcessingReceipt, nil)
	defer e.delete(ctx, ev.ChatID, progress)

	photo, err := e.transport.Download(ctx, ev.PhotoFileID)
	if err != nil {
		log.WithField("event", "deposit_receipt_download_failed").WithError(err).Warn("failed to download receipt")
		e.abort(ctx, s.UserID, ev.ChatID, textPhotoFailed)
		return
	}

	id, err := e.backend.CreatePayment(ctx, backend.PaymentRequest{
		Type:         backend.PaymentDeposit,
		UserID:       s.UserID,
		Bookmaker:    s.Payload.Bookmaker,
		Amount:       s.Payload.Amount,
		Bank:         backend.DepositBank,
		PlayerID:     s.Payload.PlayerID,
		ReceiptPhoto: dataURL(photo),
		Username:     ev.Profile.Username,
		FirstName:    ev.Profile.FirstName,
		LastName:     ev.Profile.LastName,
	})
	if err != nil {
		log.WithField("event", "deposit_submit_failed").WithError(err).Warn("deposit submission failed")
		e.abort(ctx, s.UserID, ev.ChatID, failureText(err, "❌ Ошибка при создании заявки: ", textGenericError))
		return
	}

	e.endSession(ctx, s.UserID, session.StepComplete)
	e.record(ctx, domain.RequestRecord{
		RequestID: string(id),
		UserID:    s.UserID,
		Kind:      domain.RequestDeposit,
		Bookmaker: s.Payload.Bookmaker,
		PlayerID:  s.Payload.PlayerID,
		Bank:      backend.DepositBank,
		SessionID: s.ID,
	}, s.Payload.Amount)

	log.WithFields(logging.Fields{
		"event":      "deposit_submitted",
		"request_id": string(id),
		"amount":     s.Payload.Amount.StringFixed(2),
	}).Info("deposit request created")

	display := string(id)
	if display == "" {
		display = "N/A"
	}
	e.send(ctx, ev.ChatID, depositCreatedText(display, s.Payload.Bookmaker, s.Payload.PlayerID, s.Payload.Amount), nil)
	e.mainMenu(ctx, ev.ChatID)
}

// abort ends the flow as cancelled after a failure and returns the user to
// the main menu.
func (e *Engine) abort(ctx context.Context, userID, chatID int64, text string) {
	e.endSession(ctx, userID, session.StepCancelled)
	e.send(ctx, chatID, text, nil)
	e.mainMenu(ctx, chatID)
}

func dataURL(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}
