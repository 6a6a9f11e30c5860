package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/jobqueue"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*jobqueue.Job
	err  error
}

func (q *recordingQueue) EnqueueJob(_ context.Context, t jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	job := &jobqueue.Job{ID: uuid.New().String(), Type: t, Status: jobqueue.JobStatusPending, Payload: payload}
	q.jobs = append(q.jobs, job)
	return job, nil
}

type memUsers struct {
	users   map[uint]*models.User
	cleared []uint
	err     error
}

func (m *memUsers) GetByID(id uint) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) ClearFCMToken(id uint, token string) error {
	if u, ok := m.users[id]; ok && u.FCMToken == token {
		u.FCMToken = ""
		m.cleared = append(m.cleared, id)
	}
	return nil
}

type pushCall struct {
	token, title, body string
	data               map[string]string
}

type fakePush struct {
	calls []pushCall
	err   error
}

func (f *fakePush) Send(_ context.Context, token, title, body string, data map[string]string) (string, error) {
	f.calls = append(f.calls, pushCall{token, title, body, data})
	if f.err != nil {
		return "", f.err
	}
	return "projects/taskly/messages/1", nil
}

type fakeVoice struct {
	phones   []string
	messages []string
	err      error
}

func (f *fakeVoice) Call(_ context.Context, phone, message string) (string, error) {
	f.phones = append(f.phones, phone)
	f.messages = append(f.messages, message)
	if f.err != nil {
		return "", f.err
	}
	return "CA123", nil
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

type memRecorder struct {
	counts map[string]int
}

func (r *memRecorder) Record(_ context.Context, channel, outcome string) error {
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[channel+":"+outcome]++
	return nil
}
