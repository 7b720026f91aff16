package enterprise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrgSameIgnoresName(t *testing.T) {
	a := Org{Enterprise: University, ID: "boston", Name: "Northeastern Boston"}
	b := Org{Enterprise: University, ID: "boston", Name: "Boston campus"}
	c := Org{Enterprise: Airport, ID: "boston"}

	assert.True(t, a.Same(b))
	assert.False(t, a.Same(c))
	assert.Equal(t, "UNIVERSITY/boston", a.String())
}

func TestOrgValidate(t *testing.T) {
	assert.NoError(t, Org{Enterprise: Transit, ID: "red-line"}.Validate())
	assert.Error(t, Org{Enterprise: "FERRY", ID: "x"}.Validate())
	assert.Error(t, Org{Enterprise: Transit, ID: " "}.Validate())
	assert.True(t, Org{}.IsZero())
}

func TestCustodianRole(t *testing.T) {
	cases := map[Enterprise]Role{
		University: RoleCampusCoordinator,
		Transit:    RoleStationManager,
		Airport:    RoleAirportSpecialist,
		Police:     RoleEvidenceCustodian,
	}
	for e, want := range cases {
		assert.Equal(t, want, CustodianRole(e), string(e))
	}
	assert.Panics(t, func() { CustodianRole("FERRY") })
}

func TestDisplayLabel(t *testing.T) {
	assert.Equal(t, "NEU", DisplayLabel("Northeastern University - Oakland"))
	assert.Equal(t, "Lost & Found", DisplayLabel("Lost & Found"))
}
