// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/telemetry"
)

const (
	displayWidth  = 128
	displayHeight = 64
	// basicfont.Face7x13 fits four lines of eighteen characters.
	displayLines     = 4
	displayLineChars = displayWidth / 7
	displayLineStep  = 13
)

// Display is the SSD1306 status screen.
type Display struct {
	dev *ssd1306.Dev
	bus i2c.BusCloser
}

// OpenDisplay initializes the OLED on the named I2C bus ("" for the first).
func OpenDisplay(busName string) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized on I2C bus %q", busName)

	return &Display{dev: dev, bus: bus}, nil
}

// Splash shows the start-up screen.
func (d *Display) Splash() error {
	return d.draw(renderSplash())
}

// Show draws s.
func (d *Display) Show(s Status) error {
	return d.draw(renderLines(StatusLines(s)))
}

// Close blanks the screen and releases the bus.
func (d *Display) Close() error {
	return errors.Join(d.dev.Halt(), d.bus.Close())
}

func (d *Display) draw(img *image1bit.VerticalLSB) error {
	return d.dev.Draw(d.dev.Bounds(), img, image.Point{})
}

// StatusLines formats s for the screen.
func StatusLines(s Status) []string {
	state := "Waiting..."
	switch {
	case s.HaveState:
		state = s.State.State
	case s.HaveRecord:
		state = s.Record.State
	}
	lines := []string{state}

	switch {
	case s.HaveState && s.State.Error != "":
		lines = append(lines, "ERR "+s.State.Error)
	case !s.HaveRecord:
		lines = append(lines, "no telemetry")
	default:
		r := s.Record
		dist := "--"
		if reading.HasEcho(r.DistanceCm) {
			dist = fmt.Sprintf("%.0fcm", r.DistanceCm)
		}
		lines[0] = fmt.Sprintf("%s #%d", state, r.Tick)
		lines = append(lines,
			fmt.Sprintf("P%+.2f C%3.0f", r.Position, r.Confidence),
			fmt.Sprintf("T%.2f D%s", r.Throttle, dist),
			fmt.Sprintf("L%+.2f R%+.2f", r.MotorLeft, r.MotorRight),
		)
	}

	for i, l := range lines {
		if len(l) > displayLineChars {
			lines[i] = l[:displayLineChars]
		}
	}
	if len(lines) > displayLines {
		lines = lines[:displayLines]
	}
	return lines
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func renderLines(lines []string) *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	for i, l := range lines {
		drawer.Dot = fixed.P(0, displayLineStep*(i+1))
		drawer.DrawBytes([]byte(l))
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	drawer.Dot = fixed.P(8, 26)
	drawer.DrawBytes([]byte("Line Follower"))

	drawer.Dot = fixed.P(15, 43)
	drawer.DrawBytes([]byte("press button"))

	drawer.Dot = fixed.P(15, 56)
	drawer.DrawBytes([]byte("to calibrate"))

	return img
}

// refreshDisplay redraws board every interval until ctx is done, then
// draws once more so the final state stays on screen.
func refreshDisplay(ctx context.Context, d *Display, board *StatusBoard, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failures uint64
	for {
		select {
		case <-ctx.Done():
			if err := d.Show(board.Snapshot()); err != nil {
				log.Printf("display: final update: %v", err)
			}
			return
		case <-ticker.C:
		}

		if err := d.Show(board.Snapshot()); err != nil {
			failures++
			if failures == 1 || failures%100 == 0 {
				log.Printf("display: update error: %v (%d so far)", err, failures)
			}
		}
	}
}

// RunDisplay shows the robot's MQTT telemetry on the OLED.
func RunDisplay() error {
	cfg := config.Get()

	d, err := OpenDisplay(cfg.DisplayI2CBus)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Splash(); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	board := &StatusBoard{}

	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribeStatus(client, cfg, board, "display", nil, nil); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	log.Println("display: starting update loop")
	refreshDisplay(ctx, d, board, config.Duration(cfg.DisplayUpdateInterval))
	return nil
}

// subscribeStatus feeds board from the telemetry and state topics. The
// optional callbacks run after each decoded message.
func subscribeStatus(
	client mqtt.Client,
	cfg *config.Config,
	board *StatusBoard,
	component string,
	onRecord func(telemetry.Record, []byte),
	onState func(telemetry.StateChange, []byte),
) error {
	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		r, err := board.HandleTelemetryPayload(msg.Payload())
		if err != nil {
			log.Printf("%s: telemetry unmarshal error: %v", component, err)
			return
		}
		if onRecord != nil {
			onRecord(r, msg.Payload())
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("%s: subscribed to %s", component, cfg.TopicTelemetry)

	token = client.Subscribe(cfg.TopicState, 1, func(_ mqtt.Client, msg mqtt.Message) {
		sc, err := board.HandleStatePayload(msg.Payload())
		if err != nil {
			log.Printf("%s: state unmarshal error: %v", component, err)
			return
		}
		if onState != nil {
			onState(sc, msg.Payload())
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("%s: subscribed to %s", component, cfg.TopicState)
	return nil
}
