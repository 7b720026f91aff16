package routing

import (
	"testing"
	"time"

	"claimflow/config"
	"claimflow/enterprise"
	"claimflow/trust"
	"claimflow/verification"
	"claimflow/workrequest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	boston  = enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston", Name: "Northeastern University Boston"}
	oakland = enterprise.Org{Enterprise: enterprise.University, ID: "neu-oakland", Name: "Northeastern University Oakland"}
	station = enterprise.Org{Enterprise: enterprise.Transit, ID: "park-street", Name: "MBTA Park Street"}
	logan   = enterprise.Org{Enterprise: enterprise.Airport, ID: "logan-b"}
	bpd     = enterprise.Org{Enterprise: enterprise.Police, ID: "bpd-d4"}
)

func newRouter() *Router {
	return NewRouter(config.DefaultPolicy().Routing)
}

func scoreOf(n int) trust.Score {
	return trust.NewScore("student-1", n, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func claim(value float64, category string) workrequest.Request {
	return workrequest.Request{
		Kind:         workrequest.KindItemClaim,
		RequesterOrg: boston,
		TargetOrg:    boston,
		Details:      workrequest.ItemClaim{ItemID: "i-1", Category: category, DeclaredValue: value},
	}
}

func roles(steps []workrequest.Step) []enterprise.Role {
	out := make([]enterprise.Role, len(steps))
	for i, s := range steps {
		out[i] = s.Role
	}
	return out
}

func TestRoute_HighValueClaimLowTrustAddsVerification(t *testing.T) {
	route, err := newRouter().Route(claim(1200, "ELECTRONICS"), scoreOf(40))
	require.NoError(t, err)

	require.Len(t, route.Steps, 2)
	assert.Equal(t, workrequest.Step{Role: enterprise.RoleVerificationOfficer, Org: boston, Verification: true}, route.Steps[0])
	assert.Equal(t, workrequest.Step{Role: enterprise.RoleCampusCoordinator, Org: boston}, route.Steps[1])
	assert.Equal(t, verification.KindHighValueClaim, route.VerificationKind)
}

func TestRoute_ItemClaimVerificationRules(t *testing.T) {
	r := newRouter()

	route, err := r.Route(claim(20, "BOOKS"), scoreOf(60))
	require.NoError(t, err)
	assert.Len(t, route.Steps, 1, "ordinary claim goes straight to the coordinator")

	route, err = r.Route(claim(20, "jewelry"), scoreOf(60))
	require.NoError(t, err)
	assert.Len(t, route.Steps, 2, "high-value category triggers verification")

	route, err = r.Route(claim(5000, "ELECTRONICS"), scoreOf(95))
	require.NoError(t, err)
	assert.Len(t, route.Steps, 1, "excellent standing skips verification")

	route, err = r.Route(claim(20, "BOOKS"), scoreOf(20))
	require.NoError(t, err)
	require.Len(t, route.Steps, 2, "probation always verifies")
	assert.Equal(t, verification.KindIdentity, route.VerificationKind)
}

func TestRoute_CustodianRetargetsIntake(t *testing.T) {
	req := claim(20, "BOOKS")
	req.Custodian = station

	route, err := newRouter().Route(req, scoreOf(60))
	require.NoError(t, err)
	require.Len(t, route.Steps, 1)
	assert.Equal(t, workrequest.Step{Role: enterprise.RoleStationManager, Org: station}, route.Steps[0])

	req.Custodian = enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston", Name: "a different display name"}
	route, err = newRouter().Route(req, scoreOf(60))
	require.NoError(t, err)
	assert.Equal(t, enterprise.RoleCampusCoordinator, route.Steps[0].Role, "names never affect routing")
}

func TestRoute_VerificationFollowsCustodian(t *testing.T) {
	req := claim(1200, "ELECTRONICS")
	req.Custodian = logan

	route, err := newRouter().Route(req, scoreOf(40))
	require.NoError(t, err)
	require.Len(t, route.Steps, 2)
	assert.Equal(t, workrequest.Step{Role: enterprise.RoleVerificationOfficer, Org: logan, Verification: true}, route.Steps[0])
	assert.Equal(t, enterprise.RoleAirportSpecialist, route.Steps[1].Role)
}

func TestRoute_StaticChains(t *testing.T) {
	tests := []struct {
		name     string
		details  workrequest.Details
		want     []enterprise.Role
		priority workrequest.Priority
	}{
		{
			name:    "cross campus",
			details: workrequest.CrossCampusTransfer{ItemID: "i", SourceCampus: boston, DestinationCampus: oakland},
			want:    []enterprise.Role{enterprise.RoleCampusCoordinator, enterprise.RoleCampusCoordinator, enterprise.RoleRequester},
		},
		{
			name:    "transit to university",
			details: workrequest.TransitToUniversityTransfer{ItemID: "i", Station: station, Campus: boston},
			want:    []enterprise.Role{enterprise.RoleStationManager, enterprise.RoleCampusCoordinator, enterprise.RoleRequester},
		},
		{
			name:    "airport to university",
			details: workrequest.AirportToUniversityTransfer{ItemID: "i", Airport: logan, Campus: boston},
			want:    []enterprise.Role{enterprise.RoleAirportSpecialist, enterprise.RoleCampusCoordinator, enterprise.RoleRequester},
		},
		{
			name:    "airport to university with police",
			details: workrequest.AirportToUniversityTransfer{ItemID: "i", Airport: logan, Campus: boston, RequiresPoliceVerification: true, PoliceOrg: bpd},
			want: []enterprise.Role{enterprise.RoleAirportSpecialist, enterprise.RolePoliceOfficer,
				enterprise.RoleCampusCoordinator, enterprise.RoleRequester},
		},
		{
			name:    "police evidence",
			details: workrequest.PoliceEvidenceRequest{ItemID: "i", SourceOrg: station, PoliceOrg: bpd, CaseNumber: "C-1"},
			want:    []enterprise.Role{enterprise.RoleStationManager, enterprise.RoleEvidenceCustodian},
		},
		{
			name:     "emergency",
			details:  workrequest.TransitToAirportEmergency{ItemID: "i", Station: station, Airport: logan, FlightNumber: "DL 1"},
			want:     []enterprise.Role{enterprise.RoleStationManager, enterprise.RoleAirportSpecialist},
			priority: workrequest.PriorityUrgent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := workrequest.Request{Kind: tt.details.Kind(), RequesterOrg: boston, Details: tt.details}
			route, err := newRouter().Route(req, scoreOf(50))
			require.NoError(t, err)
			assert.Equal(t, tt.want, roles(route.Steps))
			assert.Equal(t, tt.priority, route.Priority)
			assert.False(t, route.Panel)
		})
	}
}

func TestRoute_CrossCampusCustodianCollapses(t *testing.T) {
	req := workrequest.Request{
		Kind:         workrequest.KindCrossCampusTransfer,
		RequesterOrg: oakland,
		Custodian:    oakland,
		Details:      workrequest.CrossCampusTransfer{ItemID: "i", SourceCampus: boston, DestinationCampus: oakland},
	}
	route, err := newRouter().Route(req, scoreOf(50))
	require.NoError(t, err)

	// The intake moves to the destination coordinator, which then repeats.
	assert.Equal(t, []workrequest.Step{
		{Role: enterprise.RoleCampusCoordinator, Org: oakland},
		{Role: enterprise.RoleRequester, Org: oakland},
	}, route.Steps)
}

func TestRoute_DisputeGoesToPanel(t *testing.T) {
	req := workrequest.Request{
		Kind: workrequest.KindMultiEnterpriseDispute,
		Details: workrequest.MultiEnterpriseDispute{ItemID: "i", Claimants: []workrequest.DisputeClaimant{
			{UserID: "a", Org: boston}, {UserID: "b", Org: logan},
		}},
	}
	route, err := newRouter().Route(req, scoreOf(50))
	require.NoError(t, err)
	assert.True(t, route.Panel)
	assert.Empty(t, route.Steps)
}

func TestRoute_UnknownDetailsPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = newRouter().Route(workrequest.Request{}, scoreOf(50))
	})
}
