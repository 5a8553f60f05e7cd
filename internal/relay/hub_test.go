// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package relay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/metrics"
	"github.com/tomtom215/baytrack/internal/models"
	"github.com/tomtom215/baytrack/internal/registry"
	"github.com/tomtom215/baytrack/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

const testOrganizerPassword = "bay-secret"

// recordingKicker counts persister kicks.
type recordingKicker struct {
	kicks int
}

func (k *recordingKicker) Kick() { k.kicks++ }

// setupHub creates a hub over a fresh store. The returned hub is not
// running; handler tests call dispatch directly so assertions are
// synchronous.
func setupHub(t *testing.T) (*Hub, *store.Store, *recordingKicker) {
	t.Helper()
	st := store.New(t.TempDir())
	kicker := &recordingKicker{}
	hub := NewHub(registry.New(), st, kicker, func(pw string) bool {
		return pw == testOrganizerPassword
	})
	return hub, st, kicker
}

// createTestClient creates a mock client with no underlying socket.
func createTestClient(hub *Hub) *Client {
	return NewClient(hub, nil)
}

// addOrganizer registers a client and promotes it to organizer,
// draining the init frame it receives on registration.
func addOrganizer(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := createTestClient(hub)
	hub.handleRegister(c)
	recvMessage(t, c, models.MessageTypeInit)
	hub.registry.SetRole(c, registry.RoleOrganizer, "")
	return c
}

// addParticipant registers a client bound to participantID, draining
// the init frame.
func addParticipant(t *testing.T, hub *Hub, participantID string) *Client {
	t.Helper()
	c := createTestClient(hub)
	hub.handleRegister(c)
	recvMessage(t, c, models.MessageTypeInit)
	hub.registry.SetRole(c, registry.RoleParticipant, participantID)
	return c
}

// frameJSON builds an inbound frame with the canonical data field.
func frameJSON(t *testing.T, msgType string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"type": msgType, "data": data})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// recvMessage pops the next queued outbound message and asserts its type.
func recvMessage(t *testing.T, c *Client, wantType string) models.Message {
	t.Helper()
	select {
	case msg := <-c.send:
		if msg.Type != wantType {
			t.Fatalf("received message type %q, want %q", msg.Type, wantType)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no %q message received", wantType)
		return models.Message{}
	}
}

// assertNoMessage asserts the client's outbound queue is empty.
func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %q", msg.Type)
	default:
	}
}

func TestRegisterSendsInitSnapshot(t *testing.T) {
	hub, st, _ := setupHub(t)
	st.UpsertTracking("p-1", store.TrackingUpdate{
		Name:     "Ada",
		Position: &models.Position{Latitude: 54.69, Longitude: 18.43},
	})
	st.UpsertProfile(models.ParticipantProfile{ID: "p-1", Name: "Ada"})

	c := createTestClient(hub)
	hub.handleRegister(c)

	msg := recvMessage(t, c, models.MessageTypeInit)
	payload, ok := msg.Data.(models.InitPayload)
	if !ok {
		t.Fatalf("init data has type %T", msg.Data)
	}
	if len(payload.Data) != 1 || payload.Data["p-1"].Name != "Ada" {
		t.Errorf("init snapshot missing tracking state: %+v", payload.Data)
	}
	if len(payload.Participants) != 1 {
		t.Errorf("init snapshot missing profiles: %+v", payload.Participants)
	}
}

// A connection registering after N updates receives a snapshot
// equivalent to the store at that instant, not an empty state.
func TestLateJoinerCatchUp(t *testing.T) {
	hub, _, _ := setupHub(t)
	participant := addParticipant(t, hub, "p-1")

	for i := 0; i < 5; i++ {
		for _, id := range []string{"p-1", "p-2", "p-3"} {
			hub.dispatch(participant, frameJSON(t, models.MessageTypePositionUpdate, map[string]interface{}{
				"id":       id,
				"position": map[string]float64{"latitude": 54.0 + float64(i)/10, "longitude": 18.0},
				"speed":    float64(i),
			}))
		}
	}

	late := createTestClient(hub)
	hub.handleRegister(late)
	msg := recvMessage(t, late, models.MessageTypeInit)
	payload := msg.Data.(models.InitPayload)
	if len(payload.Data) != 3 {
		t.Fatalf("late joiner snapshot has %d participants, want 3", len(payload.Data))
	}
	if payload.Data["p-2"].Position.Latitude != 54.4 {
		t.Errorf("snapshot not latest state: %+v", payload.Data["p-2"])
	}
}

func TestPositionUpdateBroadcastToOrganizers(t *testing.T) {
	hub, _, _ := setupHub(t)
	organizer := addOrganizer(t, hub)
	participant := addParticipant(t, hub, "p-1")

	hub.dispatch(participant, frameJSON(t, models.MessageTypePositionUpdate, map[string]interface{}{
		"id":       "p-1",
		"position": map[string]float64{"latitude": 54.69, "longitude": 18.43},
		"speed":    10.0,
	}))

	msg := recvMessage(t, organizer, models.MessageTypePositionUpdate)
	state := msg.Data.(models.TrackingState)
	if state.Position.Latitude != 54.69 || state.Position.Longitude != 18.43 {
		t.Errorf("broadcast position = %+v", state.Position)
	}
	if state.Speed != 10 {
		t.Errorf("broadcast speed = %v, want 10", state.Speed)
	}

	// Other participants are not in the organizer audience.
	assertNoMessage(t, participant)
}

func TestSOSBroadcastPrecedesDerivedPositionUpdate(t *testing.T) {
	hub, st, kicker := setupHub(t)
	organizer := addOrganizer(t, hub)
	participant := addParticipant(t, hub, "p-1")

	hub.dispatch(participant, frameJSON(t, models.MessageTypeSOS, map[string]interface{}{
		"id":       "p-1",
		"position": map[string]float64{"lat": 54.68, "lng": 18.40},
		"message":  "capsized",
	}))

	state, _ := st.FindTracking("p-1")
	if state.Status != models.StatusSOS {
		t.Errorf("store status = %q, want sos", state.Status)
	}
	if kicker.kicks != 1 {
		t.Errorf("forced persist kicks = %d, want 1", kicker.kicks)
	}

	sos := recvMessage(t, organizer, models.MessageTypeSOS)
	derived := recvMessage(t, organizer, models.MessageTypePositionUpdate)
	if sos.Data.(models.TrackingState).Status != models.StatusSOS {
		t.Error("sos broadcast does not carry sos status")
	}
	if derived.Data.(models.TrackingState).Status != models.StatusSOS {
		t.Error("derived position_update does not reflect sos status")
	}
	if derived.Data.(models.TrackingState).Position.Latitude != 54.68 {
		t.Error("derived position_update missing sos position")
	}
}

func TestAuthOrganizerWrongThenCorrectPassword(t *testing.T) {
	hub, _, _ := setupHub(t)
	organizer := createTestClient(hub)
	hub.handleRegister(organizer)
	recvMessage(t, organizer, models.MessageTypeInit)

	hub.dispatch(organizer, frameJSON(t, models.MessageTypeAuth, map[string]string{
		"role": "organizer", "password": "wrong",
	}))
	resp := recvMessage(t, organizer, models.MessageTypeAuthResponse).Data.(models.AuthResponse)
	if resp.Success {
		t.Fatal("wrong password accepted")
	}
	if info, _ := hub.registry.Get(organizer); info.Role != registry.RoleAnonymous {
		t.Error("failed auth changed connection role")
	}

	hub.dispatch(organizer, frameJSON(t, models.MessageTypeAuth, map[string]string{
		"role": "organizer", "password": testOrganizerPassword,
	}))
	resp = recvMessage(t, organizer, models.MessageTypeAuthResponse).Data.(models.AuthResponse)
	if !resp.Success || resp.Role != "organizer" {
		t.Fatalf("auth response = %+v", resp)
	}

	// Immediately begins receiving broadcasts.
	participant := addParticipant(t, hub, "p-1")
	hub.dispatch(participant, frameJSON(t, models.MessageTypePositionUpdate, map[string]interface{}{
		"id":       "p-1",
		"position": map[string]float64{"latitude": 54.7, "longitude": 18.4},
	}))
	recvMessage(t, organizer, models.MessageTypePositionUpdate)
}

func TestAuthParticipantBindsConnection(t *testing.T) {
	hub, st, _ := setupHub(t)
	c := createTestClient(hub)
	hub.handleRegister(c)
	recvMessage(t, c, models.MessageTypeInit)

	hub.dispatch(c, frameJSON(t, models.MessageTypeAuth, map[string]string{
		"role": "participant", "participantId": "p-11",
	}))
	resp := recvMessage(t, c, models.MessageTypeAuthResponse).Data.(models.AuthResponse)
	if !resp.Success || resp.Role != "participant" {
		t.Fatalf("auth response = %+v", resp)
	}

	info, _ := hub.registry.Get(c)
	if info.Role != registry.RoleParticipant || info.ParticipantID != "p-11" {
		t.Errorf("connection binding = %+v", info)
	}
	// Unknown id was implicitly registered.
	if _, ok := st.FindProfile("p-11"); !ok {
		t.Error("implicit profile not created for unknown participant id")
	}
}

func TestRegisterParticipant(t *testing.T) {
	hub, st, _ := setupHub(t)
	organizer := addOrganizer(t, hub)
	c := createTestClient(hub)
	hub.handleRegister(c)
	recvMessage(t, c, models.MessageTypeInit)

	hub.dispatch(c, frameJSON(t, models.MessageTypeRegisterParticipant, map[string]string{
		"name": "Ada", "sailNumber": "USA-7",
	}))

	resp := recvMessage(t, c, models.MessageTypeRegistrationResponse).Data.(models.RegistrationResponse)
	if !resp.Success || resp.Profile == nil || resp.Profile.ID == "" {
		t.Fatalf("registration response = %+v", resp)
	}
	if _, ok := st.FindProfile(resp.Profile.ID); !ok {
		t.Error("profile not stored")
	}

	info, _ := hub.registry.Get(c)
	if info.Role != registry.RoleParticipant || info.ParticipantID != resp.Profile.ID {
		t.Errorf("connection not bound to new profile: %+v", info)
	}

	notice := recvMessage(t, organizer, models.MessageTypeParticipantRegistered)
	if notice.Data.(models.ParticipantProfile).Name != "Ada" {
		t.Error("organizer notification missing profile")
	}
}

func TestRegisterParticipantInvalidPayload(t *testing.T) {
	hub, _, _ := setupHub(t)
	c := createTestClient(hub)
	hub.handleRegister(c)
	recvMessage(t, c, models.MessageTypeInit)

	hub.dispatch(c, frameJSON(t, models.MessageTypeRegisterParticipant, map[string]string{
		"name": "Ada", // missing sailNumber
	}))
	resp := recvMessage(t, c, models.MessageTypeRegistrationResponse).Data.(models.RegistrationResponse)
	if resp.Success {
		t.Error("invalid registration accepted")
	}
}

func TestProfileUpdateBroadcast(t *testing.T) {
	hub, st, _ := setupHub(t)
	organizer := addOrganizer(t, hub)
	participant := addParticipant(t, hub, "p-1")
	st.UpsertProfile(models.ParticipantProfile{ID: "p-1", Name: "Ada", SailNumber: "USA-7"})

	hub.dispatch(participant, frameJSON(t, models.MessageTypeProfileUpdate, map[string]string{
		"id": "p-1", "name": "Ada Lovelace",
	}))

	msg := recvMessage(t, organizer, models.MessageTypeProfileUpdated)
	profile := msg.Data.(models.ParticipantProfile)
	if profile.Name != "Ada Lovelace" {
		t.Errorf("updated name = %q", profile.Name)
	}
	if profile.SailNumber != "USA-7" {
		t.Error("sparse profile update erased sail number")
	}
}

func TestOrganizerMessageRequiresOrganizerRole(t *testing.T) {
	hub, _, _ := setupHub(t)
	participant := addParticipant(t, hub, "p-1")
	other := addParticipant(t, hub, "p-2")

	hub.dispatch(participant, frameJSON(t, models.MessageTypeOrganizerMessage, map[string]string{
		"message": "fake start signal",
	}))
	assertNoMessage(t, other)

	organizer := addOrganizer(t, hub)
	hub.dispatch(organizer, frameJSON(t, models.MessageTypeOrganizerMessage, map[string]string{
		"message": "race starts in 5 minutes",
	}))
	msg := recvMessage(t, participant, models.MessageTypeOrganizerMessage)
	if msg.Data.(models.OrganizerMessagePayload).Message != "race starts in 5 minutes" {
		t.Error("organizer message payload mangled")
	}
	recvMessage(t, other, models.MessageTypeOrganizerMessage)
}

func TestChatRelayedToEveryoneButSender(t *testing.T) {
	hub, _, _ := setupHub(t)
	organizer := addOrganizer(t, hub)
	sender := addParticipant(t, hub, "p-1")
	other := addParticipant(t, hub, "p-2")

	hub.dispatch(sender, frameJSON(t, models.MessageTypeChat, map[string]string{
		"from": "p-1", "text": "wind is picking up",
	}))

	recvMessage(t, organizer, models.MessageTypeChat)
	recvMessage(t, other, models.MessageTypeChat)
	assertNoMessage(t, sender)
}

func TestRaceResultsStoredAndRelayed(t *testing.T) {
	hub, st, _ := setupHub(t)
	organizer := addOrganizer(t, hub)
	participant := addParticipant(t, hub, "p-1")

	hub.dispatch(organizer, frameJSON(t, models.MessageTypeRaceResults, map[string]interface{}{
		"races": map[string]interface{}{
			"race-1": []map[string]interface{}{
				{"participantId": "p-1", "position": 1, "time": "00:41:02"},
			},
		},
	}))

	recvMessage(t, participant, models.MessageTypeRaceResults)
	results := st.RaceResults()
	if len(results["race-1"]) != 1 || results["race-1"][0].ParticipantID != "p-1" {
		t.Errorf("results not stored: %+v", results)
	}
}

func TestLegacyUpdateNormalized(t *testing.T) {
	hub, st, _ := setupHub(t)
	organizer := addOrganizer(t, hub)
	participant := addParticipant(t, hub, "p-7")

	hub.dispatch(participant, frameJSON(t, models.MessageTypeLegacyUpdate, map[string]interface{}{
		"participantNumber": 7,
		"active":            true,
		"position":          map[string]float64{"lat": 54.69, "lng": 18.43},
		"accuracy":          5.0,
	}))

	msg := recvMessage(t, organizer, models.MessageTypePositionUpdate)
	state := msg.Data.(models.TrackingState)
	if state.ID != "p-7" {
		t.Errorf("legacy id normalized to %q, want p-7", state.ID)
	}
	if state.Position.Accuracy != 5 {
		t.Errorf("legacy accuracy not merged: %v", state.Position.Accuracy)
	}
	if _, ok := st.FindTracking("p-7"); !ok {
		t.Error("legacy update not tracked")
	}
}

func TestLegacyUpdateOutOfRangeDropped(t *testing.T) {
	hub, st, _ := setupHub(t)
	organizer := addOrganizer(t, hub)
	participant := addParticipant(t, hub, "p-1")

	hub.dispatch(participant, frameJSON(t, models.MessageTypeLegacyUpdate, map[string]interface{}{
		"participantNumber": 999,
		"active":            true,
	}))

	assertNoMessage(t, organizer)
	if _, total := st.Stats(); total != 0 {
		t.Error("out-of-range legacy update was tracked")
	}
}

func TestMalformedFrameDroppedConnectionStaysOpen(t *testing.T) {
	hub, _, _ := setupHub(t)
	c := addParticipant(t, hub, "p-1")

	hub.dispatch(c, []byte("{not json"))
	hub.dispatch(c, []byte(`{"data":{"id":"p-1"}}`)) // missing type

	if _, ok := hub.registry.Get(c); !ok {
		t.Error("malformed frame terminated the connection")
	}
	assertNoMessage(t, c)
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	hub, _, _ := setupHub(t)
	c := addParticipant(t, hub, "p-1")

	hub.dispatch(c, frameJSON(t, "telemetry_v9", map[string]string{"x": "y"}))

	if _, ok := hub.registry.Get(c); !ok {
		t.Error("unknown type terminated the connection")
	}
	assertNoMessage(t, c)
}

func TestPingRepliesPong(t *testing.T) {
	hub, _, _ := setupHub(t)
	c := addParticipant(t, hub, "p-1")

	hub.dispatch(c, frameJSON(t, models.MessageTypePing, nil))
	recvMessage(t, c, models.MessageTypePong)
}

// Frames from one connection are dispatched in arrival order, so the
// broadcasts attributable to it arrive in the same relative order.
func TestOrderPreservationThroughEventLoop(t *testing.T) {
	hub, _, _ := setupHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()

	organizer := createTestClient(hub)
	hub.Register(organizer)
	recvMessage(t, organizer, models.MessageTypeInit)
	hub.registry.SetRole(organizer, registry.RoleOrganizer, "")

	participant := createTestClient(hub)
	hub.Register(participant)
	recvMessage(t, participant, models.MessageTypeInit)
	hub.registry.SetRole(participant, registry.RoleParticipant, "p-1")

	speeds := []float64{1, 2, 3, 4, 5}
	for _, speed := range speeds {
		hub.inbound <- frame{client: participant, raw: frameJSON(t, models.MessageTypePositionUpdate, map[string]interface{}{
			"id":       "p-1",
			"position": map[string]float64{"latitude": 54.69, "longitude": 18.43},
			"speed":    speed,
		})}
	}

	for i, want := range speeds {
		msg := recvMessage(t, organizer, models.MessageTypePositionUpdate)
		if got := msg.Data.(models.TrackingState).Speed; got != want {
			t.Fatalf("broadcast %d has speed %v, want %v", i, got, want)
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("RunWithContext returned %v, want context.Canceled", err)
	}
}

func anonymousConnGauge() float64 {
	return testutil.ToFloat64(metrics.WSConnections.WithLabelValues(string(registry.RoleAnonymous)))
}

// Evicted connections bypass the normal unregister path, so the close
// hook must refresh the connection gauges itself.
func TestEvictionRefreshesConnectionGauges(t *testing.T) {
	hub, _, _ := setupHub(t)
	silent := createTestClient(hub)
	alive := createTestClient(hub)
	hub.handleRegister(silent)
	hub.handleRegister(alive)
	recvMessage(t, silent, models.MessageTypeInit)
	recvMessage(t, alive, models.MessageTypeInit)

	if got := anonymousConnGauge(); got != 2 {
		t.Fatalf("anonymous gauge = %v, want 2", got)
	}

	// Two sweeps with no traffic from silent evict it; alive keeps
	// responding between sweeps.
	hub.registry.Sweep()
	hub.registry.MarkAlive(alive)
	evicted := hub.registry.Sweep()
	if len(evicted) != 1 {
		t.Fatalf("evicted %d connections, want 1", len(evicted))
	}
	for _, ev := range evicted {
		hub.CloseEvicted(ev.Sender)
	}

	if got := anonymousConnGauge(); got != 1 {
		t.Errorf("anonymous gauge after eviction = %v, want 1", got)
	}
}

func TestShutdownClosesAllClients(t *testing.T) {
	hub, _, _ := setupHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()

	c := createTestClient(hub)
	hub.Register(c)
	recvMessage(t, c, models.MessageTypeInit)

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("RunWithContext returned %v", err)
	}
	if hub.registry.Count() != 0 {
		t.Errorf("registry count after shutdown = %d, want 0", hub.registry.Count())
	}
	if c.Send(models.Message{Type: models.MessageTypePong}) {
		t.Error("send succeeded on closed client")
	}
}
