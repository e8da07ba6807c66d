package sensors

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"

	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

func TestLatest(t *testing.T) {
	l := NewLatest(reading.Unavailable)
	assert.Equal(t, reading.Unavailable, l.Load())

	l.Publish(reading.Sample{Center: 7})
	l.Publish(reading.Sample{Center: 8})
	assert.Equal(t, 8, l.Load().Center)

	var empty Latest[float64]
	assert.Zero(t, empty.Load())
}

func TestLatest_ConcurrentReaders(t *testing.T) {
	l := NewLatest(0)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				l.Publish(i)
				_ = l.Load()
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, l.Load(), 0)
}

func TestFeed_Defaults(t *testing.T) {
	f := NewFeed()
	assert.False(t, f.HasReading())
	assert.Equal(t, reading.Unavailable, f.LatestReading())
	assert.Equal(t, reading.NoEcho, f.LatestDistanceCm())
}

func TestFeed_ZeroReadingCountsAsPublished(t *testing.T) {
	f := NewFeed()
	f.PublishReading(reading.Sample{DistanceCm: reading.NoEcho})

	assert.True(t, f.HasReading(), "an all-dark ADC reading is still a reading")
	assert.Equal(t, reading.Unavailable, f.LatestReading())
}

func TestFeed_WatchPublishesUntilStopped(t *testing.T) {
	f := NewFeed()
	var reads atomic.Int64
	f.WatchReadings("ir", time.Millisecond, func() (reading.Sample, error) {
		n := reads.Add(1)
		if n%2 == 0 {
			return reading.Sample{}, errors.New("bus busy")
		}
		return reading.Sample{Center: int(n)}, nil
	})
	f.WatchDistance("sonar", time.Millisecond, func() (float64, error) {
		return 42.5, nil
	})

	assert.Zero(t, reads.Load(), "producers wait for Start")

	f.Start(context.Background())
	assert.Eventually(t, func() bool {
		return f.LatestReading().Center >= 3 && f.LatestDistanceCm() == 42.5
	}, time.Second, time.Millisecond)

	f.Stop()
	assert.Equal(t, 1, f.LatestReading().Center%2, "failed reads are not published")

	after := reads.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, after, reads.Load())
}

func TestFeed_GoAfterStart(t *testing.T) {
	f := NewFeed()
	f.Start(context.Background())

	ran := make(chan struct{})
	f.Go(func(ctx context.Context) {
		close(ran)
		<-ctx.Done()
	})
	<-ran
	f.Stop()
}

// --- infrared ---

type fakeADC struct {
	raw    int32
	err    error
	halted bool
}

func (p *fakeADC) Read() (analog.Sample, error) {
	return analog.Sample{Raw: p.raw}, p.err
}

func (p *fakeADC) Halt() error {
	p.halted = true
	return nil
}

func TestInfrared_Read(t *testing.T) {
	ir := &Infrared{
		center: &fakeADC{raw: 1200},
		left:   &fakeADC{raw: -3},
		right:  &fakeADC{raw: 40000},
		rear:   &fakeADC{raw: 900},
	}

	s, err := ir.Read()
	require.NoError(t, err)
	assert.Equal(t, reading.Sample{Center: 1200, Left: 0, Right: reading.MaxCode, Rear: 900, DistanceCm: reading.NoEcho}, s)
}

func TestInfrared_ReadError(t *testing.T) {
	ir := &Infrared{
		center: &fakeADC{},
		left:   &fakeADC{err: errors.New("nack")},
		right:  &fakeADC{},
		rear:   &fakeADC{},
	}

	_, err := ir.Read()
	assert.ErrorContains(t, err, "left: nack")
}

func TestInfrared_CloseHaltsChannels(t *testing.T) {
	pins := []*fakeADC{{}, {}, {}, {}}
	ir := &Infrared{center: pins[0], left: pins[1], right: pins[2], rear: pins[3]}

	require.NoError(t, ir.Close())
	for _, p := range pins {
		assert.True(t, p.halted)
	}
}

// --- ultrasonic ---

type fakeTrig struct {
	levels []gpio.Level
}

func (p *fakeTrig) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return nil
}

type edgeStep struct {
	ok    bool
	after time.Duration
	level gpio.Level
}

type fakeEcho struct {
	clock *timeutil.MockClock
	steps []edgeStep
	level gpio.Level
	edge  gpio.Edge
}

func (p *fakeEcho) In(_ gpio.Pull, e gpio.Edge) error {
	p.edge = e
	return nil
}

func (p *fakeEcho) WaitForEdge(timeout time.Duration) bool {
	if timeout == 0 || len(p.steps) == 0 {
		return false
	}
	st := p.steps[0]
	p.steps = p.steps[1:]
	p.clock.Advance(st.after)
	p.level = st.level
	return st.ok
}

func (p *fakeEcho) Read() gpio.Level { return p.level }

func newTestUltrasonic(t *testing.T, steps ...edgeStep) (*Ultrasonic, *fakeTrig, *fakeEcho) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	trig := &fakeTrig{}
	echo := &fakeEcho{clock: clock, steps: steps}
	u, err := newUltrasonic(trig, echo, clock, 30*time.Millisecond)
	require.NoError(t, err)
	return u, trig, echo
}

func TestUltrasonic_Measure(t *testing.T) {
	u, trig, echo := newTestUltrasonic(t,
		edgeStep{ok: true, after: 200 * time.Microsecond, level: gpio.High},
		edgeStep{ok: true, after: 2 * time.Millisecond, level: gpio.Low},
	)
	assert.Equal(t, gpio.BothEdges, echo.edge)

	cm, err := u.Measure()
	require.NoError(t, err)
	assert.InDelta(t, 34.3, cm, 1e-9)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High, gpio.Low}, trig.levels)
}

func TestUltrasonic_NoEcho(t *testing.T) {
	cases := map[string][]edgeStep{
		"echo never starts": {{ok: false}},
		"wrong edge":        {{ok: true, level: gpio.Low}},
		"echo never ends":   {{ok: true, level: gpio.High}, {ok: false}},
	}
	for name, steps := range cases {
		t.Run(name, func(t *testing.T) {
			u, _, _ := newTestUltrasonic(t, steps...)
			cm, err := u.Measure()
			require.NoError(t, err)
			assert.Equal(t, reading.NoEcho, cm)
		})
	}
}

func TestUltrasonic_Close(t *testing.T) {
	u, trig, echo := newTestUltrasonic(t)
	require.NoError(t, u.Close())
	assert.Equal(t, gpio.NoEdge, echo.edge)
	assert.Equal(t, gpio.Low, trig.levels[len(trig.levels)-1])
}

func TestEchoToCm(t *testing.T) {
	assert.Equal(t, 0.0, EchoToCm(0))
	assert.InDelta(t, 34.3, EchoToCm(2*time.Millisecond), 1e-9)
	assert.InDelta(t, 100.0, EchoToCm(5831*time.Microsecond), 1e-9)
}

// --- sensor board ---

func sentence(body string) string {
	return "$" + body + "*" + nmea.Checksum(body)
}

func TestParseSentence(t *testing.T) {
	s, err := ParseSentence(sentence("LFSNS,1200,300,40000,900,12.5") + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, reading.Sample{Center: 1200, Left: 300, Right: reading.MaxCode, Rear: 900, DistanceCm: 12.5}, s)

	s, err = ParseSentence(sentence("LFSNS,1,2,3,4,-1"))
	require.NoError(t, err)
	assert.Equal(t, reading.NoEcho, s.DistanceCm)
}

func TestParseSentence_Errors(t *testing.T) {
	cases := map[string]string{
		"bad checksum": "$LFSNS,1,2,3,4,5.0*00",
		"not a number": sentence("LFSNS,1,x,3,4,5.0"),
		"unknown type": sentence("LFXYZ,1,2"),
		"not nmea":     "hello",
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSentence(line)
			assert.Error(t, err)
		})
	}
}

func TestFormatSentence(t *testing.T) {
	in := reading.Sample{Center: 10, Left: 20, Right: 30, Rear: 40, DistanceCm: 55.5}
	line := FormatSentence(in)
	assert.Equal(t, sentence("LFSNS,10,20,30,40,55.5"), line)

	out, err := ParseSentence(line)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBoard_RunPublishesValidLines(t *testing.T) {
	pr, pw := io.Pipe()
	feed := NewFeed()
	board := NewBoard(pr, "pipe")

	done := make(chan error, 1)
	go func() { done <- board.Run(context.Background(), feed) }()

	_, err := io.WriteString(pw, "boot v1.2\n"+
		"$LFSNS,garbage*00\n"+
		FormatSentence(reading.Sample{Center: 5, Left: 6, Right: 7, Rear: 8, DistanceCm: 19.5})+"\r\n")
	require.NoError(t, err)
	pw.Close()

	err = <-done
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, reading.Sample{Center: 5, Left: 6, Right: 7, Rear: 8, DistanceCm: 19.5}, feed.LatestReading())
	assert.Equal(t, 19.5, feed.LatestDistanceCm())
}

func TestBoard_RunStopsOnCancel(t *testing.T) {
	pr, _ := io.Pipe()
	board := NewBoard(pr, "pipe")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- board.Run(ctx, NewFeed()) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// --- mock track ---

func TestMockTrack(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := NewMockTrack(clock)

	s, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, m.Ambient, s.Center)
	assert.Equal(t, m.Ambient, s.Left)
	assert.Equal(t, m.Ambient, s.Right)

	m.Place()
	s, _ = m.Read()
	assert.Equal(t, m.Peak, s.Center)
	assert.Equal(t, s.Left, s.Right)
	assert.Greater(t, s.Center, s.Left)

	pi := math.Pi
	clock.Advance(time.Duration(pi * float64(time.Second)))
	s, _ = m.Read()
	assert.Greater(t, s.Right, s.Center)
	assert.Greater(t, s.Center, s.Left)

	d, _ := m.Distance()
	assert.Greater(t, d, 5.0)
	assert.LessOrEqual(t, d, 110.0)
}
