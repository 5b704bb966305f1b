package background

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Retrier replays requests that failed while offline
type Retrier interface {
	Retry(ctx context.Context) error
}

// NopRetrier is the default Retrier. No replay queue exists yet.
type NopRetrier struct{}

func (NopRetrier) Retry(ctx context.Context) error {
	logrus.Debugf("Background sync fired, nothing to replay")
	return nil
}

// Sync dispatches background sync events registered under one tag
type Sync struct {
	tag     string
	retrier Retrier
}

func NewSync(tag string, retrier Retrier) *Sync {
	if retrier == nil {
		retrier = NopRetrier{}
	}
	return &Sync{tag: tag, retrier: retrier}
}

// OnSync runs the retrier when tag is the registered tag; other tags are ignored
func (s *Sync) OnSync(ctx context.Context, tag string) error {
	if tag != s.tag {
		logrus.Debugf("Ignoring sync event with tag %q", tag)
		return nil
	}
	return s.retrier.Retry(ctx)
}
