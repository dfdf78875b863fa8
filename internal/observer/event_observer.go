package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MarkingEvent represents a marking lifecycle event
type MarkingEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	StudentName    string                 `json:"student_name,omitempty"`
	Paper          string                 `json:"paper,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of marking event
type EventType string

const (
	// MarkingStarted when a student's papers enter the engine
	MarkingStarted EventType = "marking_started"
	// MarkingCompleted when a student result was produced
	MarkingCompleted EventType = "marking_completed"
	// MarkingFailed when a student could not be marked
	MarkingFailed EventType = "marking_failed"
	// AlignmentFallback when a page is marked unaligned
	AlignmentFallback EventType = "alignment_fallback"
	// BatchCompleted when every student of a batch was processed
	BatchCompleted EventType = "batch_completed"
)

// NewEvent stamps an event with the current time
func NewEvent(eventType EventType, student string) MarkingEvent {
	return MarkingEvent{
		EventType:   eventType,
		Timestamp:   time.Now(),
		StudentName: student,
		Success:     eventType != MarkingFailed,
	}
}

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event MarkingEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event MarkingEvent)
}

// LoggingObserver logs marking events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles marking events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event MarkingEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"student":    event.StudentName,
		"success":    event.Success,
	}
	if event.Paper != "" {
		fields["paper"] = event.Paper
	}
	if event.ProcessingTime > 0 {
		fields["processing_time"] = event.ProcessingTime
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case MarkingStarted:
		entry.Debug("Marking started")
	case MarkingCompleted:
		entry.Info("Marking completed")
	case MarkingFailed:
		entry.Error("Marking failed")
	case AlignmentFallback:
		entry.Warn("Alignment failed, marking the unaligned page")
	case BatchCompleted:
		entry.Info("Batch completed")
	default:
		entry.Info("Marking event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from marking events
type MetricsObserver struct {
	mu                  sync.RWMutex
	totalMarkings       int64
	successfulMarkings  int64
	failedMarkings      int64
	alignmentFallbacks  int64
	batches             int64
	totalProcessingTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles marking events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event MarkingEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case MarkingStarted:
		o.totalMarkings++
	case MarkingCompleted:
		o.successfulMarkings++
		o.totalProcessingTime += event.ProcessingTime
	case MarkingFailed:
		o.failedMarkings++
	case AlignmentFallback:
		o.alignmentFallbacks++
	case BatchCompleted:
		o.batches++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successfulMarkings > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successfulMarkings)
	}

	return map[string]interface{}{
		"total_markings":          o.totalMarkings,
		"successful_markings":     o.successfulMarkings,
		"failed_markings":         o.failedMarkings,
		"alignment_fallbacks":     o.alignmentFallbacks,
		"batches_completed":       o.batches,
		"total_processing_time_s": o.totalProcessingTime.Seconds(),
		"avg_processing_time_s":   avgProcessingTime.Seconds(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	wg        sync.WaitGroup
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event
func (p *EventPublisher) NotifyObservers(ctx context.Context, event MarkingEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	// Notify observers concurrently
	for _, observer := range observers {
		p.wg.Add(1)
		go func(obs Observer) {
			defer p.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					// Log panic but don't crash the application
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Wait blocks until every notification sent so far has been handled
func (p *EventPublisher) Wait() {
	p.wg.Wait()
}

// Nop discards events
type Nop struct{}

func (Nop) Subscribe(Observer) {}
func (Nop) Unsubscribe(Observer) {}
func (Nop) NotifyObservers(context.Context, MarkingEvent) {}
