package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	config := DefaultConfig()
	config.Name = "verify"

	s.Require().Nil(VerifyConfig(config))

	config.Capacity = 1
	s.Require().NotNil(VerifyConfig(config))
	config.Capacity = 1 << 16

	config.Capacity = MaxRingCapacity * 2
	s.Require().NotNil(VerifyConfig(config))
	config.Capacity = 1 << 16

	config.PollInterval = 0
	s.Require().NotNil(VerifyConfig(config))
	config.PollInterval = time.Second

	config.Name = ""
	s.Require().NotNil(VerifyConfig(config))

	s.Require().NotNil(VerifyConfig(nil))
}

func (s *ConfigTestSuite) TestNewNilConfig() {
	ch, err := New(nil)
	s.Require().Error(err)
	s.Require().Nil(ch)
}

func (s *ConfigTestSuite) TestDefaults() {
	config := (&Config{Name: "defaults"}).withDefaults()
	s.Require().NotZero(config.Capacity)
	s.Require().NotZero(config.PollInterval)
	s.Require().NotNil(config.Meter)
	s.Require().NotNil(config.Tracer)
	s.Require().Nil(VerifyConfig(config))
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
