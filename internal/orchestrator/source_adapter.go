package orchestrator

import (
	"context"

	"broadcaster/internal/audiomix"
	"broadcaster/internal/pipeline"
	"broadcaster/pkg/models"
)

// queueSource sits between a raw audio capture source and the mixer,
// applying Q_a_mic/Q_a_sys's bounded-queue backpressure policy (cap 8,
// BlockThenDrop 5ms, §4.6) instead of handing the mixer a raw, unbounded
// capture channel.
type queueSource struct {
	raw   audiomix.Source
	queue *pipeline.Queue[models.AudioFrame]
}

func newQueueSource(raw audiomix.Source) *queueSource {
	return &queueSource{
		raw:   raw,
		queue: pipeline.New[models.AudioFrame](audioQueueCapacity, pipeline.BlockThenDrop, audioQueueGrace, nil),
	}
}

func (s *queueSource) Start(ctx context.Context) (<-chan models.AudioFrame, error) {
	rawCh, err := s.raw.Start(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		for frame := range rawCh {
			s.queue.Push(frame)
		}
		s.queue.Close()
	}()

	out := make(chan models.AudioFrame, 1)
	go func() {
		defer close(out)
		for {
			frame, ok := s.queue.Pop()
			if !ok {
				return
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *queueSource) Close() error {
	s.queue.Close()
	return s.raw.Close()
}

func (s *queueSource) depth() int { return s.queue.Len() }
