package pubsub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalEnvelopeInjectsIdentity(t *testing.T) {
	t.Parallel()

	data, err := MarshalEnvelope(Event{
		EventID:   "evt-1",
		EventType: "NormalSales",
		Payload: map[string]any{
			"tenant_id":      "tenant1",
			"transaction_no": 5,
		},
	})
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Equal(t, "evt-1", envelope["event_id"])
	require.Equal(t, "NormalSales", envelope["event_type"])
	require.Equal(t, "tenant1", envelope["tenant_id"])
	require.EqualValues(t, 5, envelope["transaction_no"])
}

func TestMarshalEnvelopeOmitsEmptyEventType(t *testing.T) {
	t.Parallel()

	data, err := MarshalEnvelope(Event{EventID: "evt-2", Payload: map[string]any{"n": 1}})
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	_, present := envelope["event_type"]
	require.False(t, present)
}

func TestMarshalEnvelopeOverridesPayloadIdentity(t *testing.T) {
	t.Parallel()

	// The envelope identity wins over whatever the payload carried, so a
	// republished document keeps the original event id.
	data, err := MarshalEnvelope(Event{
		EventID: "evt-new",
		Payload: map[string]any{"event_id": "evt-old"},
	})
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Equal(t, "evt-new", envelope["event_id"])
}

func TestMarshalEnvelopeRejectsNonObjectPayload(t *testing.T) {
	t.Parallel()

	_, err := MarshalEnvelope(Event{EventID: "evt-3", Payload: []int{1, 2, 3}})
	require.Error(t, err)

	_, err = MarshalEnvelope(Event{EventID: "evt-4", Payload: "scalar"})
	require.Error(t, err)
}
