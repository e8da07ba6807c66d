// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/line_follower/internal/reading"
)

// TypeSNS is the sentence type sent by the sensor board:
//
//	$LFSNS,<center>,<left>,<right>,<rear>,<distance_cm>*CS
//
// distance_cm is -1 when the rangefinder saw no echo.
const TypeSNS = "SNS"

const boardTalker = "LF"

// SNS is one sensor board report.
type SNS struct {
	nmea.BaseSentence
	Center     int64
	Left       int64
	Right      int64
	Rear       int64
	DistanceCm float64
}

func newSNS(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeSNS)
	m := SNS{
		BaseSentence: s,
		Center:       p.Int64(0, "center"),
		Left:         p.Int64(1, "left"),
		Right:        p.Int64(2, "right"),
		Rear:         p.Int64(3, "rear"),
		DistanceCm:   p.Float64(4, "distance"),
	}
	return m, p.Err()
}

// Sample converts the report, clamping codes to the ADC range.
func (m SNS) Sample() reading.Sample {
	d := m.DistanceCm
	if !reading.HasEcho(d) {
		d = reading.NoEcho
	}
	return reading.Sample{
		Center:     clampCode(int(m.Center)),
		Left:       clampCode(int(m.Left)),
		Right:      clampCode(int(m.Right)),
		Rear:       clampCode(int(m.Rear)),
		DistanceCm: d,
	}
}

var boardParser = nmea.SentenceParser{
	CustomParsers: map[string]nmea.ParserFunc{
		TypeSNS: newSNS,
	},
}

// ParseSentence decodes one checksummed $LFSNS line.
func ParseSentence(line string) (reading.Sample, error) {
	sentence, err := boardParser.Parse(strings.TrimSpace(line))
	if err != nil {
		return reading.Sample{}, err
	}
	m, ok := sentence.(SNS)
	if !ok {
		return reading.Sample{}, fmt.Errorf("unexpected sentence %s", sentence.Prefix())
	}
	return m.Sample(), nil
}

// FormatSentence encodes s the way the sensor board sends it.
func FormatSentence(s reading.Sample) string {
	body := fmt.Sprintf("%s%s,%d,%d,%d,%d,%.1f", boardTalker, TypeSNS,
		s.Center, s.Left, s.Right, s.Rear, s.DistanceCm)
	return "$" + body + "*" + nmea.Checksum(body)
}

// Board reads sensor reports from a microcontroller over a serial link.
type Board struct {
	port io.ReadCloser
	name string

	closeOnce sync.Once
	closeErr  error
}

// OpenBoard opens the serial port to the sensor board.
func OpenBoard(portName string, baudRate int) (*Board, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("sensor board: open %s: %w", portName, err)
	}
	log.Printf("sensor board: serial port opened on %s at %d baud", portName, baudRate)
	return NewBoard(port, portName), nil
}

// NewBoard wraps an already open stream.
func NewBoard(port io.ReadCloser, name string) *Board {
	return &Board{port: port, name: name}
}

// Run publishes every valid report into feed until the stream fails or ctx
// is done. Closing the port is how a blocked read is released.
func (b *Board) Run(ctx context.Context, feed *Feed) error {
	stop := context.AfterFunc(ctx, func() { b.Close() })
	defer stop()

	reader := bufio.NewReader(b.port)
	var bad uint64

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sensor board %s: read: %w", b.name, err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}

		s, err := ParseSentence(line)
		if err != nil {
			// noisy links produce partial sentences; log sparingly
			bad++
			if bad == 1 || bad%100 == 0 {
				log.Printf("sensor board: %v (line %q, %d bad so far)", err, line, bad)
			}
			continue
		}

		feed.PublishReading(s)
		feed.PublishDistance(s.DistanceCm)
	}
}

// Close releases the serial port. It is safe to call more than once.
func (b *Board) Close() error {
	b.closeOnce.Do(func() { b.closeErr = b.port.Close() })
	return b.closeErr
}
