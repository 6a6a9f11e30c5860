package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/ManuelReschke/Taskly/internal/pkg/billing"
	"github.com/ManuelReschke/Taskly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Taskly/internal/pkg/mail"
	"github.com/ManuelReschke/Taskly/internal/pkg/metrics/counter"
)

// Channel names used in errors and counters
const (
	ChannelPush  = "push"
	ChannelCall  = "call"
	ChannelEmail = "email"
)

// Users is the user store the worker reads recipients from.
type Users interface {
	GetByID(id uint) (*models.User, error)
	ClearFCMToken(id uint, token string) error
}

// Recorder counts delivery outcomes.
type Recorder interface {
	Record(ctx context.Context, channel, outcome string) error
}

// Worker executes the notification jobs.
type Worker struct {
	users  Users
	push   PushGateway
	voice  VoiceGateway
	mailer mail.Sender
	stats  Recorder
}

// NewWorker creates a worker. Any gateway may be nil; jobs for that channel
// then fail permanently.
func NewWorker(users Users, push PushGateway, voice VoiceGateway, mailer mail.Sender) *Worker {
	return &Worker{users: users, push: push, voice: voice, mailer: mailer}
}

// WithRecorder sets the outcome recorder
func (w *Worker) WithRecorder(r Recorder) *Worker {
	w.stats = r
	return w
}

// RegisterHandlers installs the push, call and email handlers on q.
func (w *Worker) RegisterHandlers(q *jobqueue.Queue) {
	q.Handle(jobqueue.JobTypeSendPush, w.HandlePush)
	q.Handle(jobqueue.JobTypeSendCall, w.HandleCall)
	q.Handle(jobqueue.JobTypeSendEmail, w.HandleEmail)
}

// HandlePush delivers a push job. A token the gateway rejects is cleared
// from the user and the job is not retried.
func (w *Worker) HandlePush(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.PushJobPayloadFromMap(job.Payload)
	if err != nil {
		return apperrors.Validation("payload", "invalid push payload: %v", err)
	}
	user, err := w.recipient(ctx, ChannelPush, payload.UserID)
	if user == nil || err != nil {
		return err
	}
	if !user.HasPushToken() {
		log.Infof("[Notify] User %d has no FCM token, skipping push", user.ID)
		w.record(ctx, ChannelPush, counter.OutcomeSkipped)
		return nil
	}
	if w.push == nil {
		return w.unconfigured(ctx, ChannelPush)
	}

	id, err := w.push.Send(ctx, user.FCMToken, payload.Title, payload.Body, payload.Data)
	if err != nil {
		if apperrors.IsPermanent(err) {
			log.Warnf("[Notify] FCM token of user %d rejected, clearing it: %v", user.ID, err)
			w.record(ctx, ChannelPush, counter.OutcomeRejected)
			if cerr := w.users.ClearFCMToken(user.ID, user.FCMToken); cerr != nil {
				log.Errorf("[Notify] Failed to clear FCM token of user %d: %v", user.ID, cerr)
			}
			return err
		}
		w.record(ctx, ChannelPush, counter.OutcomeFailed)
		return err
	}
	log.Infof("[Notify] Push %s sent to user %d", id, user.ID)
	w.record(ctx, ChannelPush, counter.OutcomeSent)
	return nil
}

// HandleCall places a reminder call.
func (w *Worker) HandleCall(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.CallJobPayloadFromMap(job.Payload)
	if err != nil {
		return apperrors.Validation("payload", "invalid call payload: %v", err)
	}
	user, err := w.recipient(ctx, ChannelCall, payload.UserID)
	if user == nil || err != nil {
		return err
	}
	if !user.HasPhone() {
		log.Infof("[Notify] User %d has no phone number, skipping call", user.ID)
		w.record(ctx, ChannelCall, counter.OutcomeSkipped)
		return nil
	}
	if w.voice == nil {
		return w.unconfigured(ctx, ChannelCall)
	}

	if _, err := w.voice.Call(ctx, user.PhoneNumber, payload.Message); err != nil {
		w.record(ctx, ChannelCall, counter.OutcomeFailed)
		return err
	}
	w.record(ctx, ChannelCall, counter.OutcomeSent)
	return nil
}

// HandleEmail renders a billing notice and mails it to the user.
func (w *Worker) HandleEmail(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.EmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return apperrors.Validation("payload", "invalid email payload: %v", err)
	}
	var notice billing.Notice
	if err := json.Unmarshal(payload.Notice, &notice); err != nil {
		return apperrors.Validation("notice", "invalid notice: %v", err)
	}
	subject, body, err := mail.RenderNotice(notice)
	if err != nil {
		return apperrors.Validation("kind", "%v", err)
	}

	user, err := w.recipient(ctx, ChannelEmail, payload.UserID)
	if user == nil || err != nil {
		return err
	}
	if w.mailer == nil {
		return w.unconfigured(ctx, ChannelEmail)
	}
	if err := w.mailer.Send(ctx, user.Email, subject, body); err != nil {
		w.record(ctx, ChannelEmail, counter.OutcomeFailed)
		return err
	}
	log.Infof("[Notify] %s email sent to user %d", notice.Kind, user.ID)
	w.record(ctx, ChannelEmail, counter.OutcomeSent)
	return nil
}

// recipient loads the user. A deleted user yields (nil, nil) so the job
// completes without delivery.
func (w *Worker) recipient(ctx context.Context, channel string, id uint) (*models.User, error) {
	user, err := w.users.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) || apperrors.IsNotFound(err) {
		log.Warnf("[Notify] User %d not found, dropping %s", id, channel)
		w.record(ctx, channel, counter.OutcomeSkipped)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", id, err)
	}
	return user, nil
}

func (w *Worker) unconfigured(ctx context.Context, channel string) error {
	w.record(ctx, channel, counter.OutcomeFailed)
	return &apperrors.NotificationDeliveryError{
		Channel:   channel,
		Permanent: true,
		Err:       fmt.Errorf("%s gateway not configured", channel),
	}
}

func (w *Worker) record(ctx context.Context, channel, outcome string) {
	if w.stats == nil {
		return
	}
	if err := w.stats.Record(ctx, channel, outcome); err != nil {
		log.Debugf("[Notify] Failed to record %s %s: %v", channel, outcome, err)
	}
}
