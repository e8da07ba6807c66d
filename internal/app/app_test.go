package app

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/line_follower/internal/actuator"
	"github.com/relabs-tech/line_follower/internal/button"
	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/control"
	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/sensors"
	"github.com/relabs-tech/line_follower/internal/steering"
	"github.com/relabs-tech/line_follower/internal/telemetry"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testRecord() telemetry.Record {
	return telemetry.Record{
		Time:       testTime,
		Tick:       42,
		State:      "Running",
		CenterRaw:  20000,
		LeftRaw:    3000,
		RightRaw:   3100,
		Position:   -0.13,
		Confidence: 87.6,
		Throttle:   0.8,
		DistanceCm: 23.4,
		MotorLeft:  0.35,
		MotorRight: 0.4,
	}
}

// --- status board ---

func TestStatusBoard(t *testing.T) {
	b := &StatusBoard{}
	assert.False(t, b.Snapshot().HaveRecord)
	assert.False(t, b.Snapshot().HaveState)

	payload, err := json.Marshal(testRecord())
	require.NoError(t, err)
	r, err := b.HandleTelemetryPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), r.Tick)

	_, err = b.HandleStatePayload([]byte(`{"state":"Stopped","time":"2026-03-01T09:00:00Z","error":"calibration stalled"}`))
	require.NoError(t, err)

	st := b.Snapshot()
	assert.True(t, st.HaveRecord)
	assert.Equal(t, testRecord(), st.Record)
	assert.True(t, st.HaveState)
	assert.Equal(t, "calibration stalled", st.State.Error)

	_, err = b.HandleTelemetryPayload([]byte("{"))
	assert.Error(t, err)
	assert.Equal(t, uint64(42), b.Snapshot().Record.Tick, "bad payload leaves the board alone")
}

func TestStateChange(t *testing.T) {
	sc := stateChange(control.Running, nil, testTime)
	assert.Equal(t, telemetry.StateChange{State: "Running", Time: testTime}, sc)

	sc = stateChange(control.Stopped, steering.ErrCalibrationStalled, testTime)
	assert.Equal(t, "Stopped", sc.State)
	assert.Equal(t, "calibration stalled", sc.Error)
}

type failingSink struct{ n int }

func (s *failingSink) Publish(telemetry.Record) error {
	s.n++
	return telemetry.ErrSinkClosed
}

func TestMultiSink(t *testing.T) {
	board := &StatusBoard{}
	bad := &failingSink{}
	m := multiSink{board, bad}

	err := m.Publish(testRecord())
	assert.ErrorIs(t, err, telemetry.ErrSinkClosed)
	assert.Equal(t, 1, bad.n)
	assert.True(t, board.Snapshot().HaveRecord, "every sink sees the record")

	assert.NoError(t, multiSink{board}.Publish(testRecord()))
}

// --- web ---

func TestWeb_NoDataYet(t *testing.T) {
	srv := NewWebServer()
	h := srv.Handler("")

	for _, path := range []string{"/api/telemetry", "/api/state"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "no data yet")
	}
}

func TestWeb_LatestTelemetryAndState(t *testing.T) {
	srv := NewWebServer()
	srv.Board.Publish(testRecord())
	srv.Board.SetState(telemetry.StateChange{State: "Running", Time: testTime})
	h := srv.Handler("")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/telemetry", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got telemetry.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, testRecord(), got)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sc telemetry.StateChange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sc))
	assert.Equal(t, "Running", sc.State)
}

func TestWeb_WebsocketStreamsTelemetry(t *testing.T) {
	srv := NewWebServer()
	ts := httptest.NewServer(srv.Handler(""))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.Hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	payload, err := json.Marshal(testRecord())
	require.NoError(t, err)
	srv.Hub.Broadcast(payload)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got telemetry.Record
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(42), got.Tick)

	conn.Close()
	assert.Eventually(t, func() bool { return srv.Hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	h := NewHub()
	c := &wsClient{send: make(chan []byte, 1)}
	h.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Broadcast([]byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full client")
	}
	assert.Len(t, c.send, 1)
}

// --- display ---

func TestStatusLines_Waiting(t *testing.T) {
	assert.Equal(t, []string{"Waiting...", "no telemetry"}, StatusLines(Status{}))
}

func TestStatusLines_Running(t *testing.T) {
	lines := StatusLines(Status{
		State:      telemetry.StateChange{State: "Running"},
		HaveState:  true,
		Record:     testRecord(),
		HaveRecord: true,
	})
	assert.Equal(t, []string{
		"Running #42",
		"P-0.13 C 88",
		"T0.80 D23cm",
		"L+0.35 R+0.40",
	}, lines)
}

func TestStatusLines_NoEchoAndError(t *testing.T) {
	r := testRecord()
	r.DistanceCm = reading.NoEcho
	lines := StatusLines(Status{Record: r, HaveRecord: true})
	assert.Equal(t, "T0.80 D--", lines[2])

	lines = StatusLines(Status{
		State:     telemetry.StateChange{State: "Stopped", Error: "calibrating: calibration stalled: 3 of 100 clean samples"},
		HaveState: true,
	})
	require.Len(t, lines, 2)
	assert.Equal(t, "Stopped", lines[0])
	assert.Len(t, lines[1], displayLineChars, "long lines are cut to the screen width")
}

func litPixels(img *image1bit.VerticalLSB, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRenderLines(t *testing.T) {
	img := renderLines([]string{"Running #1", "", "", ""})
	assert.Equal(t, image.Rect(0, 0, displayWidth, displayHeight), img.Bounds())
	assert.Positive(t, litPixels(img, image.Rect(0, 0, displayWidth, displayLineStep+3)))
	assert.Zero(t, litPixels(img, image.Rect(0, displayLineStep+3, displayWidth, displayHeight)))

	assert.Positive(t, litPixels(renderSplash(), img.Bounds()))
}

// --- console ---

func TestFormatTelemetryLine(t *testing.T) {
	line := FormatTelemetryLine(testRecord())
	assert.Contains(t, line, "[TICK     42]")
	assert.Contains(t, line, "pos=-0.130")
	assert.Contains(t, line, "dist= 23.4cm")
	assert.Contains(t, line, "motors L=+0.350 R=+0.400")

	r := testRecord()
	r.DistanceCm = reading.NoEcho
	assert.Contains(t, FormatTelemetryLine(r), "dist=  --  ")
}

func TestFormatStateLine(t *testing.T) {
	assert.Equal(t, "[STATE] Running at 2026-03-01T09:00:00Z",
		FormatStateLine(telemetry.StateChange{State: "Running", Time: testTime}))
	assert.Equal(t, "[STATE] Stopped at 2026-03-01T09:00:00Z error: boom",
		FormatStateLine(telemetry.StateChange{State: "Stopped", Time: testTime, Error: "boom"}))
}

// --- probe ---

func TestFormatProbeLine(t *testing.T) {
	s := reading.Sample{Center: 900, Left: 300, Right: 600, Rear: 50}
	assert.Equal(t, "[IR] C=  900 L=  300 R=  600 Rear=   50 front=   400.0  [US] 12.5cm", FormatProbeLine(s, 12.5))
	assert.Contains(t, FormatProbeLine(s, reading.NoEcho), "[US] no echo")
}

func TestProbeLine_WaitsForFirstReading(t *testing.T) {
	feed := sensors.NewFeed()
	assert.Equal(t, "[IR] no reading yet", probeLine(feed, false))

	feed.PublishReading(reading.Sample{DistanceCm: reading.NoEcho})
	assert.Equal(t, "[IR] C=    0 L=    0 R=    0 Rear=    0 front=     0.0  [US] no echo", probeLine(feed, false))
}

// --- calibration ---

type stepSource struct {
	samples []reading.Sample
	i       int
}

func (s *stepSource) LatestReading() reading.Sample {
	v := s.samples[s.i%len(s.samples)]
	s.i++
	return v
}

func TestChannelStats(t *testing.T) {
	st := channelStats([]int{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 5.0, st.Mean)
	assert.Equal(t, 2.0, st.StdDev)
	assert.Equal(t, 2, st.Min)
	assert.Equal(t, 9, st.Max)

	assert.Equal(t, ChannelStats{}, channelStats(nil))
}

func TestCalibrate_ReportsAcceptedSamples(t *testing.T) {
	src := &stepSource{samples: []reading.Sample{
		{Center: 1000, Left: 2000, Right: 3000, Rear: 10},
		reading.Unavailable,
		{Center: 1100, Left: 2100, Right: 3100, Rear: 30},
	}}
	p := control.Params{CalibrationSamples: 4, CalibrationPollInterval: time.Millisecond, CalibrationMaxAttempts: 100}
	clock := timeutil.NewMockClock(testTime)

	rep, err := Calibrate(context.Background(), src, clock, p, "mock")
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Samples)
	assert.Equal(t, steering.Baseline{Center: 1050, Left: 2050, Right: 3050}, rep.Baseline)
	assert.Equal(t, 1050.0, rep.Center.Mean)
	assert.Equal(t, 50.0, rep.Center.StdDev)
	assert.Equal(t, 10, rep.Rear.Min)
	assert.Equal(t, 30, rep.Rear.Max)
	assert.Equal(t, "mock", rep.Source)
	assert.Equal(t, testTime.Add(5*time.Millisecond).Format(time.RFC3339), rep.CalibrationAt)
	assert.Empty(t, rep.Notes)
}

func TestCalibrate_NotesNoisyAndSaturatedChannels(t *testing.T) {
	src := &stepSource{samples: []reading.Sample{
		{Center: 1000, Left: 2000, Right: reading.MaxCode},
		{Center: 2000, Left: 2000, Right: reading.MaxCode},
	}}
	p := control.Params{CalibrationSamples: 2, CalibrationMaxAttempts: 10}

	rep, err := Calibrate(context.Background(), src, timeutil.NewMockClock(testTime), p, "adc")
	require.NoError(t, err)
	require.Len(t, rep.Notes, 2)
	assert.Contains(t, rep.Notes[0], "center channel is noisy")
	assert.Contains(t, rep.Notes[1], "right channel saturated")
}

func TestCalibrate_Stalled(t *testing.T) {
	src := &stepSource{samples: []reading.Sample{reading.Unavailable}}
	p := control.Params{CalibrationSamples: 2, CalibrationMaxAttempts: 5}

	_, err := Calibrate(context.Background(), src, timeutil.NewMockClock(testTime), p, "adc")
	assert.ErrorIs(t, err, steering.ErrCalibrationStalled)
}

// --- sensor sources and a full simulated run ---

func TestOpenSensors_UnknownSource(t *testing.T) {
	cfg := config.Default()
	cfg.SensorSource = "sonar"
	_, err := OpenSensors(cfg, timeutil.RealClock{})
	assert.ErrorContains(t, err, `unknown sensor source "sonar"`)
}

func TestOpenSensors_Mock(t *testing.T) {
	cfg := config.Default()
	cfg.SensorSource = config.SourceMock
	cfg.IRSampleInterval = 1
	cfg.DistanceSampleInterval = 1

	rig, err := OpenSensors(cfg, timeutil.RealClock{})
	require.NoError(t, err)
	require.NotNil(t, rig.Track)

	rig.Feed.Start(context.Background())
	require.Eventually(t, func() bool {
		return rig.Feed.HasReading() && reading.HasEcho(rig.Feed.LatestDistanceCm())
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, rig.Track.Ambient, rig.Feed.LatestReading().Center, "off the track until placed")

	require.NoError(t, rig.Close())
}

func TestRunVehicle_SimulatedRun(t *testing.T) {
	cfg := config.Default()
	cfg.SensorSource = config.SourceMock
	cfg.TelemetryEnabled = false
	cfg.DisplayEnabled = false
	cfg.IRSampleInterval = 1
	cfg.DistanceSampleInterval = 1
	cfg.CalibrationSamples = 5
	cfg.CalibrationPollInterval = 1
	cfg.StartDelay = 0
	cfg.FramesPerSecond = 100
	cfg.LogEveryTicks = 0

	rig, err := OpenSensors(cfg, timeutil.RealClock{})
	require.NoError(t, err)
	defer rig.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.Feed.Start(ctx)

	btn := &button.Auto{}
	motors := &actuator.Console{}
	var states []control.State

	err = runVehicle(ctx, cfg, vehicle{
		feed:     rig.Feed,
		actuator: motors,
		button:   btn,
		hooks: []control.StateHook{func(s control.State, _ error) {
			states = append(states, s)
			if s == control.Running {
				rig.Track.Place()
				time.AfterFunc(150*time.Millisecond, btn.Press)
			}
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, []control.State{
		control.Idle, control.Calibrating, control.WaitingForStart, control.Running, control.Stopped,
	}, states)
	assert.Equal(t, 2, btn.Waits())
	assert.Greater(t, motors.Writes(), 1)
	assert.Equal(t, steering.FullStop, motors.Last())
}

func TestRunVehicle_InterruptIsClean(t *testing.T) {
	cfg := config.Default()
	cfg.SensorSource = config.SourceMock
	cfg.TelemetryEnabled = false

	rig, err := OpenSensors(cfg, timeutil.RealClock{})
	require.NoError(t, err)
	defer rig.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	motors := &actuator.Console{}
	err = runVehicle(ctx, cfg, vehicle{feed: rig.Feed, actuator: motors, button: &button.Auto{}})
	assert.NoError(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, motors.Writes(), "only the full stop")
}
