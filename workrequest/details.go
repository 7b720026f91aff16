package workrequest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"claimflow/apperr"
	"claimflow/enterprise"
)

// Details carries the kind-specific fields of a request. The set of
// implementations is closed; every switch over it must handle all seven.
type Details interface {
	Kind() Kind
	validate() error
	itemRef() string
	copyDetails() Details
}

type ItemClaim struct {
	ItemID        string  `json:"item_id"`
	Category      string  `json:"category"`
	DeclaredValue float64 `json:"declared_value"`
	FoundReportID string  `json:"found_report_id,omitempty"`
	Description   string  `json:"description,omitempty"`
}

type CrossCampusTransfer struct {
	ItemID            string         `json:"item_id"`
	SourceCampus      enterprise.Org `json:"source_campus"`
	DestinationCampus enterprise.Org `json:"destination_campus"`
	TransportMethod   string         `json:"transport_method,omitempty"`
}

type TransitToUniversityTransfer struct {
	ItemID      string         `json:"item_id"`
	Station     enterprise.Org `json:"station"`
	Campus      enterprise.Org `json:"campus"`
	TransitLine string         `json:"transit_line,omitempty"`
}

type AirportToUniversityTransfer struct {
	ItemID                     string         `json:"item_id"`
	Airport                    enterprise.Org `json:"airport"`
	Campus                     enterprise.Org `json:"campus"`
	FlightNumber               string         `json:"flight_number,omitempty"`
	RequiresPoliceVerification bool           `json:"requires_police_verification"`
	PoliceOrg                  enterprise.Org `json:"police_org"`
}

type PoliceEvidenceRequest struct {
	ItemID       string         `json:"item_id"`
	SourceOrg    enterprise.Org `json:"source_org"`
	PoliceOrg    enterprise.Org `json:"police_org"`
	CaseNumber   string         `json:"case_number"`
	SerialNumber string         `json:"serial_number,omitempty"`
}

type TransitToAirportEmergency struct {
	ItemID       string         `json:"item_id"`
	Station      enterprise.Org `json:"station"`
	Airport      enterprise.Org `json:"airport"`
	FlightNumber string         `json:"flight_number"`
	DepartureAt  time.Time      `json:"departure_at"`
}

// MultiEnterpriseDispute is resolved by panel vote instead of a linear chain.
// DisputeID is assigned when the panel opens and WinnerID when it resolves.
type MultiEnterpriseDispute struct {
	ItemID        string            `json:"item_id"`
	DisputeID     string            `json:"dispute_id,omitempty"`
	WinnerID      string            `json:"winner_id,omitempty"`
	DeclaredValue float64           `json:"declared_value"`
	Claimants     []DisputeClaimant `json:"claimants"`
	Panel         []PanelSeat       `json:"panel,omitempty"`
	VotesRequired int               `json:"votes_required,omitempty"`
}

type DisputeClaimant struct {
	UserID    string         `json:"user_id"`
	Org       enterprise.Org `json:"org"`
	Narrative string         `json:"narrative,omitempty"`
}

type PanelSeat struct {
	MemberID string         `json:"member_id"`
	Org      enterprise.Org `json:"org"`
}

func (ItemClaim) Kind() Kind                   { return KindItemClaim }
func (CrossCampusTransfer) Kind() Kind         { return KindCrossCampusTransfer }
func (TransitToUniversityTransfer) Kind() Kind { return KindTransitToUniversityTransfer }
func (AirportToUniversityTransfer) Kind() Kind { return KindAirportToUniversityTransfer }
func (PoliceEvidenceRequest) Kind() Kind       { return KindPoliceEvidenceRequest }
func (TransitToAirportEmergency) Kind() Kind   { return KindTransitToAirportEmergency }
func (MultiEnterpriseDispute) Kind() Kind      { return KindMultiEnterpriseDispute }

func (d ItemClaim) itemRef() string                   { return d.ItemID }
func (d CrossCampusTransfer) itemRef() string         { return d.ItemID }
func (d TransitToUniversityTransfer) itemRef() string { return d.ItemID }
func (d AirportToUniversityTransfer) itemRef() string { return d.ItemID }
func (d PoliceEvidenceRequest) itemRef() string       { return d.ItemID }
func (d TransitToAirportEmergency) itemRef() string   { return d.ItemID }
func (d MultiEnterpriseDispute) itemRef() string      { return d.ItemID }

func (d ItemClaim) copyDetails() Details                   { return d }
func (d CrossCampusTransfer) copyDetails() Details         { return d }
func (d TransitToUniversityTransfer) copyDetails() Details { return d }
func (d AirportToUniversityTransfer) copyDetails() Details { return d }
func (d PoliceEvidenceRequest) copyDetails() Details       { return d }
func (d TransitToAirportEmergency) copyDetails() Details   { return d }
func (d MultiEnterpriseDispute) copyDetails() Details {
	d.Claimants = append([]DisputeClaimant(nil), d.Claimants...)
	d.Panel = append([]PanelSeat(nil), d.Panel...)
	return d
}

func (d ItemClaim) validate() error {
	if err := requireItem(d.ItemID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Category) == "" {
		return apperr.Invalidf("workrequest: item claim category required")
	}
	if d.DeclaredValue < 0 {
		return apperr.Invalidf("workrequest: declared value must not be negative")
	}
	return nil
}

func (d CrossCampusTransfer) validate() error {
	if err := requireItem(d.ItemID); err != nil {
		return err
	}
	if err := requireOrg("source campus", d.SourceCampus, enterprise.University); err != nil {
		return err
	}
	if err := requireOrg("destination campus", d.DestinationCampus, enterprise.University); err != nil {
		return err
	}
	if d.SourceCampus.Same(d.DestinationCampus) {
		return apperr.Invalidf("workrequest: source and destination campus must differ")
	}
	return nil
}

func (d TransitToUniversityTransfer) validate() error {
	if err := requireItem(d.ItemID); err != nil {
		return err
	}
	if err := requireOrg("station", d.Station, enterprise.Transit); err != nil {
		return err
	}
	return requireOrg("campus", d.Campus, enterprise.University)
}

func (d AirportToUniversityTransfer) validate() error {
	if err := requireItem(d.ItemID); err != nil {
		return err
	}
	if err := requireOrg("airport", d.Airport, enterprise.Airport); err != nil {
		return err
	}
	if err := requireOrg("campus", d.Campus, enterprise.University); err != nil {
		return err
	}
	if d.RequiresPoliceVerification {
		return requireOrg("police org", d.PoliceOrg, enterprise.Police)
	}
	return nil
}

func (d PoliceEvidenceRequest) validate() error {
	if err := requireItem(d.ItemID); err != nil {
		return err
	}
	if err := d.SourceOrg.Validate(); err != nil {
		return apperr.Invalidf("workrequest: source org: %v", err)
	}
	if err := requireOrg("police org", d.PoliceOrg, enterprise.Police); err != nil {
		return err
	}
	if strings.TrimSpace(d.CaseNumber) == "" {
		return apperr.Invalidf("workrequest: case number required")
	}
	return nil
}

func (d TransitToAirportEmergency) validate() error {
	if err := requireItem(d.ItemID); err != nil {
		return err
	}
	if err := requireOrg("station", d.Station, enterprise.Transit); err != nil {
		return err
	}
	if err := requireOrg("airport", d.Airport, enterprise.Airport); err != nil {
		return err
	}
	if strings.TrimSpace(d.FlightNumber) == "" {
		return apperr.Invalidf("workrequest: flight number required")
	}
	return nil
}

func (d MultiEnterpriseDispute) validate() error {
	if err := requireItem(d.ItemID); err != nil {
		return err
	}
	if len(d.Claimants) < 2 {
		return apperr.Invalidf("workrequest: a dispute needs at least two claimants")
	}
	seen := make(map[string]struct{}, len(d.Claimants))
	for _, c := range d.Claimants {
		if strings.TrimSpace(c.UserID) == "" {
			return apperr.Invalidf("workrequest: claimant user id required")
		}
		if _, dup := seen[c.UserID]; dup {
			return apperr.Invalidf("workrequest: duplicate claimant %q", c.UserID)
		}
		seen[c.UserID] = struct{}{}
		if err := c.Org.Validate(); err != nil {
			return apperr.Invalidf("workrequest: claimant %s org: %v", c.UserID, err)
		}
	}
	members := make(map[string]struct{}, len(d.Panel))
	for _, p := range d.Panel {
		if strings.TrimSpace(p.MemberID) == "" {
			return apperr.Invalidf("workrequest: panel member id required")
		}
		if _, dup := members[p.MemberID]; dup {
			return apperr.Invalidf("workrequest: duplicate panel member %q", p.MemberID)
		}
		if _, claimant := seen[p.MemberID]; claimant {
			return apperr.Invalidf("workrequest: claimant %q cannot sit on the panel", p.MemberID)
		}
		members[p.MemberID] = struct{}{}
	}
	if d.VotesRequired < 0 || (len(d.Panel) > 0 && d.VotesRequired > len(d.Panel)) {
		return apperr.Invalidf("workrequest: votes required must be within the panel size")
	}
	return nil
}

func requireItem(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Invalidf("workrequest: item id required")
	}
	return nil
}

func requireOrg(field string, org enterprise.Org, want enterprise.Enterprise) error {
	if err := org.Validate(); err != nil {
		return apperr.Invalidf("workrequest: %s: %v", field, err)
	}
	if org.Enterprise != want {
		return apperr.Invalidf("workrequest: %s must belong to %s, got %s", field, want, org.Enterprise)
	}
	return nil
}

// EncodeDetails serializes d for storage alongside its kind tag.
func EncodeDetails(d Details) (Kind, []byte, error) {
	if d == nil {
		return "", nil, fmt.Errorf("workrequest: nil details")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", nil, fmt.Errorf("workrequest: encode %s details: %w", d.Kind(), err)
	}
	return d.Kind(), raw, nil
}

// DecodeDetails rebuilds the details of a stored request. Unknown kinds are
// an error, never a silent default.
func DecodeDetails(kind Kind, raw []byte) (Details, error) {
	var (
		d   Details
		err error
	)
	switch kind {
	case KindItemClaim:
		var v ItemClaim
		err = json.Unmarshal(raw, &v)
		d = v
	case KindCrossCampusTransfer:
		var v CrossCampusTransfer
		err = json.Unmarshal(raw, &v)
		d = v
	case KindTransitToUniversityTransfer:
		var v TransitToUniversityTransfer
		err = json.Unmarshal(raw, &v)
		d = v
	case KindAirportToUniversityTransfer:
		var v AirportToUniversityTransfer
		err = json.Unmarshal(raw, &v)
		d = v
	case KindPoliceEvidenceRequest:
		var v PoliceEvidenceRequest
		err = json.Unmarshal(raw, &v)
		d = v
	case KindTransitToAirportEmergency:
		var v TransitToAirportEmergency
		err = json.Unmarshal(raw, &v)
		d = v
	case KindMultiEnterpriseDispute:
		var v MultiEnterpriseDispute
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("workrequest: unknown kind tag %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("workrequest: decode %s details: %w", kind, err)
	}
	return d, nil
}
