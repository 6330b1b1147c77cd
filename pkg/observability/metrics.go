package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login outcome labels.
const (
	LoginSuccess   = "success"
	LoginDenied    = "denied"
	LoginMalformed = "malformed_claims"
	LoginError     = "error"
)

// Membership operation labels.
const (
	MembershipAdded   = "added"
	MembershipRemoved = "removed"
)

// Metrics holds the Prometheus instruments of the AAI bridge. A nil
// *Metrics is valid and records nothing, so metrics stay optional in tests.
type Metrics struct {
	logins             *prometheus.CounterVec
	usersProvisioned   prometheus.Counter
	vosCreated         prometheus.Counter
	membershipsChanged *prometheus.CounterVec
}

// NewMetrics creates and registers the bridge metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aai_logins_total",
			Help: "Login callbacks processed, by outcome.",
		}, []string{"result"}),
		usersProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aai_users_provisioned_total",
			Help: "Users created on first login.",
		}),
		vosCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aai_vos_created_total",
			Help: "Virtual organizations created lazily on first observation.",
		}),
		membershipsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aai_vo_memberships_changed_total",
			Help: "VO membership edges added or removed during synchronization.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.logins, m.usersProvisioned, m.vosCreated, m.membershipsChanged)
	return m
}

// ObserveLogin counts a processed login callback.
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// UserProvisioned counts a first-login user creation.
func (m *Metrics) UserProvisioned() {
	if m == nil {
		return
	}
	m.usersProvisioned.Inc()
}

// VOCreated counts a lazily created virtual organization.
func (m *Metrics) VOCreated() {
	if m == nil {
		return
	}
	m.vosCreated.Inc()
}

// MembershipChanged counts a membership edge change.
func (m *Metrics) MembershipChanged(op string) {
	if m == nil {
		return
	}
	m.membershipsChanged.WithLabelValues(op).Inc()
}
