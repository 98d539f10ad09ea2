package trip

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// 切分状态常量
const (
	StateIdle   = "idle"
	StateInTrip = "in_trip"
)

// 事件常量
const (
	EventIgnitionOn    = "ignition_on"
	EventMovementStart = "movement_start"
	EventIgnitionOff   = "ignition_off"
	EventIdleTimeout   = "idle_timeout"
	EventGapTimeout    = "gap_timeout"
)

// machine 单设备单次切分的状态机
type machine struct {
	fsm *fsm.FSM
}

func newMachine() *machine {
	return &machine{
		fsm: fsm.NewFSM(
			StateIdle,
			fsm.Events{
				// 开启行程
				{Name: EventIgnitionOn, Src: []string{StateIdle}, Dst: StateInTrip},
				{Name: EventMovementStart, Src: []string{StateIdle}, Dst: StateInTrip},

				// 关闭行程
				{Name: EventIgnitionOff, Src: []string{StateInTrip}, Dst: StateIdle},
				{Name: EventIdleTimeout, Src: []string{StateInTrip}, Dst: StateIdle},
				{Name: EventGapTimeout, Src: []string{StateInTrip}, Dst: StateIdle},
			},
			fsm.Callbacks{},
		),
	}
}

func (m *machine) inTrip() bool {
	return m.fsm.Current() == StateInTrip
}

func (m *machine) trigger(event string) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}
