package inventory

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&InventorySuite{})

type InventorySuite struct{}

func (s *InventorySuite) TestFakeResolverResolvesKnownInstance(c *check.C) {
	r := NewFakeResolver(map[string]string{"i-001": "GPU-332"})
	hostname, ok, err := r.ResolveHost(context.Background(), "i-001")
	c.Assert(err, check.IsNil)
	c.Check(ok, check.Equals, true)
	c.Check(hostname, check.Equals, "GPU-332")
}

func (s *InventorySuite) TestFakeResolverUnknownInstance(c *check.C) {
	r := NewFakeResolver(map[string]string{})
	_, ok, err := r.ResolveHost(context.Background(), "i-999")
	c.Assert(err, check.IsNil)
	c.Check(ok, check.Equals, false)
}

func (s *InventorySuite) TestCLIResolverParsesJSONList(c *check.C) {
	r := NewCLIResolver([]string{"/bin/sh", "-c", `echo '[{"ocid":"i-001","hostname":"GPU-332"}]'`}, 0, testLogger())
	hostname, ok, err := r.ResolveHost(context.Background(), "i-001")
	c.Assert(err, check.IsNil)
	c.Check(ok, check.Equals, true)
	c.Check(hostname, check.Equals, "GPU-332")
}

func (s *InventorySuite) TestCLIResolverMissingInstance(c *check.C) {
	r := NewCLIResolver([]string{"/bin/sh", "-c", `echo '[{"ocid":"i-001","hostname":"GPU-332"}]'`}, 0, testLogger())
	_, ok, err := r.ResolveHost(context.Background(), "i-404")
	c.Assert(err, check.IsNil)
	c.Check(ok, check.Equals, false)
}
