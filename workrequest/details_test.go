package workrequest

import (
	"testing"
	"time"

	"claimflow/enterprise"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailsCodec(t *testing.T) {
	police := enterprise.Org{Enterprise: enterprise.Police, ID: "bpd-d4", Name: "Boston Police D4"}
	library := enterprise.Org{Enterprise: enterprise.University, ID: "neu-oakland"}

	cases := []Details{
		ItemClaim{ItemID: "item-1", Category: "ELECTRONICS", DeclaredValue: 899.5, FoundReportID: "found-9", Description: "silver laptop"},
		CrossCampusTransfer{ItemID: "item-2", SourceCampus: campus, DestinationCampus: library, TransportMethod: "shuttle"},
		TransitToUniversityTransfer{ItemID: "item-3", Station: station, Campus: campus, TransitLine: "Green Line"},
		AirportToUniversityTransfer{ItemID: "item-4", Airport: airport, Campus: campus, FlightNumber: "DL 1234", RequiresPoliceVerification: true, PoliceOrg: police},
		PoliceEvidenceRequest{ItemID: "item-5", SourceOrg: station, PoliceOrg: police, CaseNumber: "BPD-2026-0042", SerialNumber: "SN-77"},
		TransitToAirportEmergency{
			ItemID:       "item-6",
			Station:      station,
			Airport:      airport,
			FlightNumber: "UA 88",
			DepartureAt:  time.Date(2026, 9, 14, 18, 45, 30, 0, time.UTC),
		},
		MultiEnterpriseDispute{
			ItemID:        "item-7",
			DisputeID:     "dispute-1",
			WinnerID:      "bob",
			DeclaredValue: 1200,
			Claimants: []DisputeClaimant{
				{UserID: "alice", Org: campus, Narrative: "engraved initials"},
				{UserID: "bob", Org: station},
			},
			Panel: []PanelSeat{
				{MemberID: "coord-1", Org: campus},
				{MemberID: "station-1", Org: station},
				{MemberID: "airport-1", Org: airport},
			},
			VotesRequired: 2,
		},
	}

	seen := make(map[Kind]bool)
	for _, want := range cases {
		t.Run(string(want.Kind()), func(t *testing.T) {
			kind, raw, err := EncodeDetails(want)
			require.NoError(t, err)
			assert.Equal(t, want.Kind(), kind)

			got, err := DecodeDetails(kind, raw)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, want.itemRef(), got.itemRef())
		})
		seen[want.Kind()] = true
	}
	assert.Len(t, seen, 7, "one case per kind")
}

func TestDetailsCodec_EmergencyDepartureKeepsInstant(t *testing.T) {
	departure := time.Date(2026, 9, 14, 14, 45, 0, 0, time.FixedZone("EDT", -4*60*60))
	_, raw, err := EncodeDetails(TransitToAirportEmergency{ItemID: "item-6", Station: station, Airport: airport, FlightNumber: "UA 88", DepartureAt: departure})
	require.NoError(t, err)

	got, err := DecodeDetails(KindTransitToAirportEmergency, raw)
	require.NoError(t, err)
	emergency, ok := got.(TransitToAirportEmergency)
	require.True(t, ok)
	assert.True(t, departure.Equal(emergency.DepartureAt), "got %s", emergency.DepartureAt)
}

func TestDetailsCodec_Errors(t *testing.T) {
	_, err := DecodeDetails(Kind("LOST_PET"), []byte(`{"item_id":"item-1"}`))
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown kind tag "LOST_PET"`)

	_, err = DecodeDetails(KindItemClaim, []byte(`{"item_id":`))
	assert.ErrorContains(t, err, "decode ITEM_CLAIM details")

	_, _, err = EncodeDetails(nil)
	assert.Error(t, err)
}
