package metrics

import (
	"strings"
	"sync"
	"time"

	"dexflow/logger"
)

// Field keys lifted out of an emitted metric's fields into Metric itself.
const (
	FieldNetwork = "network"
	FieldAction  = "action"
	FieldResult  = "result"
)

// Metric is one event emitted by a dexflow component. The network, action
// and result of the operation it measures are first class so subscribers
// can filter on them.
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Network   string        `json:"network,omitempty"`
	Action    string        `json:"action,omitempty"`
	Result    string        `json:"result,omitempty"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// Filter selects metrics. Empty members match anything; network and action
// compare case-insensitively.
type Filter struct {
	Component string
	Network   string
	Action    string
}

func (f Filter) Match(m Metric) bool {
	if f.Component != "" && f.Component != m.Component {
		return false
	}
	if f.Network != "" && !strings.EqualFold(f.Network, m.Network) {
		return false
	}
	if f.Action != "" && !strings.EqualFold(f.Action, m.Action) {
		return false
	}
	return true
}

type MetricHandler func(Metric)

// MetricHandlerID identifies a subscription; zero is never issued.
type MetricHandlerID uint64

type subscription struct {
	filter  Filter
	handler MetricHandler
}

var subscribers = struct {
	sync.RWMutex
	next MetricHandlerID
	byID map[MetricHandlerID]subscription
}{byID: make(map[MetricHandlerID]subscription)}

// RegisterMetricHandler subscribes handler to the metrics matching filter.
// A nil handler is not registered and yields 0.
func RegisterMetricHandler(filter Filter, handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	subscribers.Lock()
	defer subscribers.Unlock()
	subscribers.next++
	subscribers.byID[subscribers.next] = subscription{filter: filter, handler: handler}
	return subscribers.next
}

func UnregisterMetricHandler(id MetricHandlerID) {
	subscribers.Lock()
	delete(subscribers.byID, id)
	subscribers.Unlock()
}

// newMetric builds the event, moving the well-known keys out of fields. The
// caller's map is never modified.
func newMetric(component, name string, value interface{}, metricType string, fields logger.Fields) Metric {
	if metricType == "" {
		metricType = "counter"
	}
	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    logger.Fields{},
	}
	for k, v := range fields {
		s, _ := v.(string)
		switch k {
		case FieldNetwork:
			m.Network = s
		case FieldAction:
			m.Action = s
		case FieldResult:
			m.Result = s
		default:
			m.Fields[k] = v
		}
	}
	return m
}

func (m Metric) logFields() logger.Fields {
	out := make(logger.Fields, len(m.Fields)+6)
	for k, v := range m.Fields {
		out[k] = v
	}
	for k, v := range map[string]string{FieldNetwork: m.Network, FieldAction: m.Action, FieldResult: m.Result} {
		if v != "" {
			out[k] = v
		}
	}
	out["metric"] = m.Name
	out["metric_type"] = m.Type
	out["value"] = m.Value
	return out
}

// recordMetric logs the event at debug level and hands it to every matching
// subscriber. Unnamed metrics are dropped.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if log == nil {
		log = logger.GetLogger()
	}
	m := newMetric(component, name, value, metricType, fields)
	log.WithComponent(component).WithFields(m.logFields()).Debug("metric")

	subscribers.RLock()
	matched := make([]MetricHandler, 0, len(subscribers.byID))
	for _, sub := range subscribers.byID {
		if sub.filter.Match(m) {
			matched = append(matched, sub.handler)
		}
	}
	subscribers.RUnlock()

	for _, h := range matched {
		h(m)
	}
	return m, true
}
