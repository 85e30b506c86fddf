package channel

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics double-reports channel counters: OTel instruments for the meter
// configured on the channel, and optional Prometheus counters for
// scrape-based setups. Either side may be a noop.
type metrics struct {
	attrs metric.MeasurementOption

	sentMsgs  metric.Int64Counter
	sentBytes metric.Int64Counter
	recvMsgs  metric.Int64Counter
	recvBytes metric.Int64Counter
	drains    metric.Int64Counter

	prom *promCounters
}

type promCounters struct {
	sentMsgs  prometheus.Counter
	sentBytes prometheus.Counter
	recvMsgs  prometheus.Counter
	recvBytes prometheus.Counter
	drains    prometheus.Counter
}

func newMetrics(name string, meter metric.Meter, reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		attrs: metric.WithAttributes(attribute.String("channel", name)),
	}

	var err error
	if m.sentMsgs, err = meter.Int64Counter("shmchan.messages.sent",
		metric.WithDescription("Messages enqueued by the sender.")); err != nil {
		return nil, err
	}
	if m.sentBytes, err = meter.Int64Counter("shmchan.bytes.sent",
		metric.WithDescription("Payload bytes enqueued by the sender.")); err != nil {
		return nil, err
	}
	if m.recvMsgs, err = meter.Int64Counter("shmchan.messages.received",
		metric.WithDescription("Messages drained by the replica.")); err != nil {
		return nil, err
	}
	if m.recvBytes, err = meter.Int64Counter("shmchan.bytes.received",
		metric.WithDescription("Payload bytes drained by the replica.")); err != nil {
		return nil, err
	}
	if m.drains, err = meter.Int64Counter("shmchan.drain.cycles",
		metric.WithDescription("Completed wait/drain cycles.")); err != nil {
		return nil, err
	}

	if reg != nil {
		labels := prometheus.Labels{"channel": name}
		m.prom = &promCounters{
			sentMsgs: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "shmchan_messages_sent_total", Help: "Messages enqueued by the sender.", ConstLabels: labels}),
			sentBytes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "shmchan_bytes_sent_total", Help: "Payload bytes enqueued by the sender.", ConstLabels: labels}),
			recvMsgs: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "shmchan_messages_received_total", Help: "Messages drained by the replica.", ConstLabels: labels}),
			recvBytes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "shmchan_bytes_received_total", Help: "Payload bytes drained by the replica.", ConstLabels: labels}),
			drains: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "shmchan_drain_cycles_total", Help: "Completed wait/drain cycles.", ConstLabels: labels}),
		}
		for _, c := range []prometheus.Counter{
			m.prom.sentMsgs, m.prom.sentBytes, m.prom.recvMsgs, m.prom.recvBytes, m.prom.drains,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *metrics) sent(ctx context.Context, payloadLen int) {
	m.sentMsgs.Add(ctx, 1, m.attrs)
	m.sentBytes.Add(ctx, int64(payloadLen), m.attrs)
	if m.prom != nil {
		m.prom.sentMsgs.Inc()
		m.prom.sentBytes.Add(float64(payloadLen))
	}
}

func (m *metrics) received(ctx context.Context, payloadLen int) {
	m.recvMsgs.Add(ctx, 1, m.attrs)
	m.recvBytes.Add(ctx, int64(payloadLen), m.attrs)
	if m.prom != nil {
		m.prom.recvMsgs.Inc()
		m.prom.recvBytes.Add(float64(payloadLen))
	}
}

func (m *metrics) drained(ctx context.Context) {
	m.drains.Add(ctx, 1, m.attrs)
	if m.prom != nil {
		m.prom.drains.Inc()
	}
}
