//go:build linux && (amd64 || arm64)

package channel

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MetricsTestSuite struct {
	suite.Suite
}

func (s *MetricsTestSuite) TestPromCounters() {
	reg := prometheus.NewRegistry()

	cfg := DefaultConfig()
	cfg.Name = uniqueName("metrics")
	cfg.Capacity = 1 << 12
	cfg.PollInterval = 20 * time.Millisecond
	cfg.PromRegisterer = reg

	ch, err := New(cfg)
	s.Require().NoError(err)
	defer ch.Close()

	sender, replica, err := ch.Split()
	s.Require().NoError(err)

	s.Require().NoError(sender.TrySend([]byte("1234")))
	s.Require().NoError(sender.TrySend([]byte("56")))

	n, err := replica.Run(context.Background(), &collector{})
	s.Require().NoError(err)
	s.Require().Equal(2, n)

	families, err := reg.Gather()
	s.Require().NoError(err)

	s.Require().Equal(float64(2), counterValue(s.T(), families, "shmchan_messages_sent_total"))
	s.Require().Equal(float64(6), counterValue(s.T(), families, "shmchan_bytes_sent_total"))
	s.Require().Equal(float64(2), counterValue(s.T(), families, "shmchan_messages_received_total"))
	s.Require().Equal(float64(6), counterValue(s.T(), families, "shmchan_bytes_received_total"))
	s.Require().Equal(float64(1), counterValue(s.T(), families, "shmchan_drain_cycles_total"))
}

func (s *MetricsTestSuite) TestChannelLabel() {
	reg := prometheus.NewRegistry()

	cfg := DefaultConfig()
	cfg.Name = uniqueName("label")
	cfg.Capacity = 1 << 12
	cfg.PromRegisterer = reg

	ch, err := New(cfg)
	s.Require().NoError(err)
	defer ch.Close()

	families, err := reg.Gather()
	s.Require().NoError(err)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			s.Require().Equal(cfg.Name, labels["channel"], "family %s", fam.GetName())
		}
	}
}

func (s *MetricsTestSuite) TestDuplicateRegistration() {
	reg := prometheus.NewRegistry()
	name := uniqueName("dup")

	_, err := newMetrics(name, DefaultConfig().Meter, reg)
	s.Require().NoError(err)

	// Same name on the same registry collides on the const labels.
	_, err = newMetrics(name, DefaultConfig().Meter, reg)
	s.Require().Error(err)
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		require.Len(t, fam.GetMetric(), 1)
		return fam.GetMetric()[0].GetCounter().GetValue()
	}
	t.Fatalf("metric family %s not gathered", name)
	return 0
}

func TestMetricsTestSuite(t *testing.T) {
	suite.Run(t, new(MetricsTestSuite))
}
