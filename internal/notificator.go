package internal

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotifyChannelShutDown = errors.New("notify channel maybe shutdown!")
	ErrNotifyReceiverDisable = errors.New("notify receiver disable")
)

// Notificator fans one publisher out to dynamically subscribed
// channels. The gateway uses it to feed queue snapshots to every
// connected status watcher.
type Notificator[T any] struct {
	channels map[uuid.UUID]chan T
	notifyMu *sync.RWMutex
}

func NewNotificator[T any]() *Notificator[T] {
	return &Notificator[T]{
		channels: make(map[uuid.UUID]chan T),
		notifyMu: &sync.RWMutex{},
	}
}

func (this *Notificator[T]) Create(bufSize int) (<-chan T, uuid.UUID) {
	id := uuid.New()
	c := make(chan T, bufSize)
	this.notifyMu.Lock()
	this.channels[id] = c
	this.notifyMu.Unlock()
	return c, id
}

func (this *Notificator[T]) Remove(id uuid.UUID) error {
	this.notifyMu.Lock()
	defer this.notifyMu.Unlock()
	if c, ok := this.channels[id]; ok {
		delete(this.channels, id)
		close(c)
		return nil
	}
	return ErrNotifyChannelShutDown
}

func (this *Notificator[T]) Subscribers() int {
	this.notifyMu.RLock()
	defer this.notifyMu.RUnlock()
	return len(this.channels)
}

// Broadcast offers v to every subscriber without blocking; slow
// receivers miss the update.
func (this *Notificator[T]) Broadcast(v T) {
	this.notifyMu.RLock()
	defer this.notifyMu.RUnlock()

	for _, c := range this.channels {
		select {
		case c <- v:
		default:
		}
	}
}

func (this *Notificator[T]) Notify(id uuid.UUID, v T, blocking bool) error {
	this.notifyMu.RLock()
	defer this.notifyMu.RUnlock()

	if c, ok := this.channels[id]; ok {
		if blocking {
			c <- v
		} else {
			select {
			case c <- v:
			default:
				return ErrNotifyReceiverDisable
			}
		}
		return nil
	}
	return ErrNotifyReceiverDisable
}
