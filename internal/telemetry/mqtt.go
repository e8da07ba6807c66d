// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultQueueSize holds roughly one second of records at typical loop rates.
const DefaultQueueSize = 64

// ErrSinkClosed is returned by Publish after Close.
var ErrSinkClosed = errors.New("telemetry sink closed")

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect opens an MQTT client connection.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// MQTTSink publishes records from a background goroutine. Publish never
// blocks: when the queue is full the oldest pending record is dropped.
type MQTTSink struct {
	pub        Publisher
	topic      string
	stateTopic string
	timeout    time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewMQTTSink starts the publishing goroutine. Close must be called to stop it.
func NewMQTTSink(pub Publisher, topic, stateTopic string, queueSize int) *MQTTSink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &MQTTSink{
		pub:        pub,
		topic:      topic,
		stateTopic: stateTopic,
		timeout:    time.Second,
		queue:      make(chan Record, queueSize),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish enqueues r for delivery.
func (s *MQTTSink) Publish(r Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- r:
		return nil
	default:
	}

	// Full: make room by discarding the oldest record.
	select {
	case <-s.queue:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.queue <- r:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// PublishState sends a retained state change and waits briefly for the broker.
func (s *MQTTSink) PublishState(sc StateChange) error {
	if s.stateTopic == "" {
		return nil
	}
	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	token := s.pub.Publish(s.stateTopic, 1, true, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish state %s: timed out", sc.State)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish state %s: %w", sc.State, err)
	}
	return nil
}

// Dropped is the number of records discarded because the queue was full.
func (s *MQTTSink) Dropped() uint64 { return s.dropped.Load() }

// Failed is the number of records the broker did not acknowledge.
func (s *MQTTSink) Failed() uint64 { return s.failed.Load() }

// Close stops accepting records and waits until queued ones are sent.
func (s *MQTTSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *MQTTSink) run() {
	defer close(s.done)

	for r := range s.queue {
		payload, err := json.Marshal(r)
		if err != nil {
			s.noteFailure(fmt.Errorf("marshal tick %d: %w", r.Tick, err))
			continue
		}
		token := s.pub.Publish(s.topic, 0, false, payload)
		if !token.WaitTimeout(s.timeout) {
			s.noteFailure(fmt.Errorf("publish tick %d: timed out", r.Tick))
			continue
		}
		if err := token.Error(); err != nil {
			s.noteFailure(fmt.Errorf("publish tick %d: %w", r.Tick, err))
		}
	}
}

// noteFailure counts a lost record and logs the first and every hundredth.
func (s *MQTTSink) noteFailure(err error) {
	n := s.failed.Add(1)
	if n == 1 || n%100 == 0 {
		log.Printf("telemetry: %v (%d failed so far)", err, n)
	}
}
