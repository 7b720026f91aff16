package main

import (
	"encoding/json"
	"testing"
	"time"

	"claimflow/enterprise"
	"claimflow/workrequest"
)

func TestRequestResponse_OrgLabels(t *testing.T) {
	at := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	req := workrequest.Request{
		ID:           "req-1",
		Kind:         workrequest.KindTransitToUniversityTransfer,
		Status:       workrequest.StatusPending,
		RequesterOrg: enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston", Name: "Northeastern University - Boston"},
		TargetOrg:    enterprise.Org{Enterprise: enterprise.Transit, ID: "park-street", Name: "MBTA Park Street"},
		Details:      workrequest.TransitToUniversityTransfer{ItemID: "item-1", Station: station, Campus: campus},
		CreatedAt:    at,
		UpdatedAt:    at,
	}

	resp := toRequestResponse(req, nil)
	if resp.RequesterLabel != "NEU" || resp.TargetLabel != "MBTA" {
		t.Fatalf("unexpected labels: requester=%q target=%q", resp.RequesterLabel, resp.TargetLabel)
	}
	if resp.TargetOrg.ID != "park-street" {
		t.Fatalf("label replaced the org: %+v", resp.TargetOrg)
	}

	req.TargetOrg = enterprise.Org{Enterprise: enterprise.Transit, ID: "park-street"}
	raw, err := json.Marshal(toRequestResponse(req, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["target_label"]; ok {
		t.Fatalf("unnamed org should carry no label: %s", raw)
	}
	if fields["requester_label"] != "NEU" {
		t.Fatalf("requester_label = %v", fields["requester_label"])
	}
}
