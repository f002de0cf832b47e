package announce

import (
	"context"
	"expvar"
	"log/slog"
	"strings"
	"time"
)

type Kind string

const (
	KindCall   Kind = "call"
	KindRecall Kind = "recall"
)

// Announcement asks displays or speakers to call a ticket to the desk.
type Announcement struct {
	Kind        Kind
	ServiceID   int64
	ServiceCode string
	ServiceName string
	DisplayNo   string
	Name        string
}

var (
	announceSent    = expvar.NewInt("announce_sent_total")
	announceFailed  = expvar.NewInt("announce_failed_total")
	announceDropped = expvar.NewInt("announce_dropped_total")
)

// Worker hands announcements to a Provider off the request path. Announce
// never blocks; when the buffer is full the announcement is dropped.
type Worker struct {
	provider Provider
	queue    chan Announcement
	timeout  time.Duration
	log      *slog.Logger
}

type Config struct {
	Buffer  int
	Timeout time.Duration
}

func NewWorker(provider Provider, cfg Config, logger *slog.Logger) *Worker {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		provider: provider,
		queue:    make(chan Announcement, buffer),
		timeout:  timeout,
		log:      logger,
	}
}

func (w *Worker) Announce(a Announcement) {
	select {
	case w.queue <- a:
	default:
		announceDropped.Add(1)
		w.log.Warn("announce queue full, dropping", "service", a.ServiceCode, "display_no", a.DisplayNo)
	}
}

// Run delivers queued announcements until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-w.queue:
			w.deliver(ctx, a)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, a Announcement) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.provider.Send(ctx, a, Render(a)); err != nil {
		announceFailed.Add(1)
		w.log.Error("announce failed", "service", a.ServiceCode, "display_no", a.DisplayNo, "error", err)
		return
	}
	announceSent.Add(1)
}

func defaultTemplate(kind Kind) string {
	switch kind {
	case KindRecall:
		return "Recall: ticket {display_no}, please come to {service_name}."
	default:
		return "Ticket {display_no}, please come to {service_name}."
	}
}

// Render fills the announcement template for a.
func Render(a Announcement) string {
	service := a.ServiceName
	if service == "" {
		service = a.ServiceCode
	}
	result := defaultTemplate(a.Kind)
	result = strings.ReplaceAll(result, "{display_no}", a.DisplayNo)
	result = strings.ReplaceAll(result, "{service_name}", service)
	return result
}
