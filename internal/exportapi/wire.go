package exportapi

import (
	"encoding/json"
	"strings"

	"github.com/cuongbtq/traffic-export/internal/worker/domain"
)

type submitBody struct {
	UUID            string           `json:"uuid"`
	Segments        segmentSelection `json:"segments"`
	Dates           []dateRange      `json:"dates"`
	Times           []timeRange      `json:"times"`
	DOW             []int            `json:"dow"`
	DSFields        []dsField        `json:"dsFields"`
	Granularity     granularity      `json:"granularity"`
	TravelTimeUnits string           `json:"travelTimeUnits"`
	IncludeIsoTzd   bool             `json:"includeIsoTzd"`
}

type segmentSelection struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type dateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type timeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type dsField struct {
	ID            string        `json:"id"`
	Columns       []string      `json:"columns"`
	QualityFilter qualityFilter `json:"qualityFilter"`
}

type qualityFilter struct {
	Thresholds []int `json:"thresholds"`
}

type granularity struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

func newSubmitBody(req domain.ExportJobRequest) submitBody {
	dow := req.DaysOfWeek
	if len(dow) == 0 {
		dow = domain.AllDaysOfWeek
	}
	return submitBody{
		UUID:     req.CorrelationID,
		Segments: segmentSelection{Type: "xd", IDs: req.SegmentIDs},
		Dates: []dateRange{{
			Start: req.StartDate.Format(domain.DateFormat),
			End:   req.EndDate.Format(domain.DateFormat),
		}},
		Times: []timeRange{{Start: req.Times.Start, End: req.Times.End}},
		DOW:   dow,
		DSFields: []dsField{{
			ID:            "inrix_xd",
			Columns:       req.Columns,
			QualityFilter: qualityFilter{Thresholds: req.QualityThresholds},
		}},
		Granularity:     granularity{Type: req.Granularity.Unit, Value: req.Granularity.Value},
		TravelTimeUnits: req.TravelTimeUnits,
		IncludeIsoTzd:   false,
	}
}

// jobID accepts the remote job identifier as either a JSON string or number.
type jobID string

func (j *jobID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*j = jobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*j = jobID(n.String())
	return nil
}

func (j jobID) String() string {
	return strings.TrimSpace(string(j))
}

type submitResponse struct {
	ID jobID `json:"id"`
}

type statusResponse struct {
	State    string   `json:"state"`
	Progress *float64 `json:"progress"`
}
