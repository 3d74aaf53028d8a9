package planner

import (
	"gocnc/status"
)

/*
 * Command blocks. Everything that is not an ALine is a synchronized
 * command: it reaches the queue head in commit order, waits for the
 * previous motion block's last step, runs its payload, and frees itself
 * before the next block's first step. Block types are a tagged variant -
 * the type selects the dispatch arm and the payload fields it reads.
 */

// queueCommandBlock checks out, fills, and commits a command-type buffer.
func (p *Planner) queueCommandBlock(blockType BlockType, fill func(*Block)) error {
	if p.Q.IsFull() {
		return status.Eagain
	}
	bf := p.Q.WriteBuffer()
	if bf == nil {
		return status.Eagain
	}
	if fill != nil {
		fill(bf)
	}
	p.Q.CommitWriteBuffer(bf, blockType)
	p.requestBackPlanning()
	return nil
}

// QueueCommand queues a general command callback with bounded arguments.
func (p *Planner) QueueCommand(exec CommandExec, values []float64, flags []bool) error {
	return p.queueCommandBlock(BlockCommand, func(bf *Block) {
		bf.Exec = exec
		bf.CmdValues = values
		bf.CmdFlags = flags
	})
}

// Dwell queues a G4 pause of the given seconds.
func (p *Planner) Dwell(seconds float64) error {
	if seconds < 0 {
		return status.InputValueRangeError
	}
	return p.queueCommandBlock(BlockDwell, func(bf *Block) {
		bf.DwellSeconds = seconds
	})
}

// QueueJSONWait queues a wait command carrying a raw payload that is
// interpreted when it reaches the synchronization point.
func (p *Planner) QueueJSONWait(payload string, exec CommandExec) error {
	return p.queueCommandBlock(BlockJSONWait, func(bf *Block) {
		bf.JSONPayload = payload
		bf.Exec = exec
	})
}

// QueueTool queues a T tool-select command.
func (p *Planner) QueueTool(tool uint8, exec CommandExec) error {
	return p.queueCommandBlock(BlockTool, func(bf *Block) {
		bf.ToolNumber = tool
		bf.Exec = exec
	})
}

// QueueSpindleSpeed queues an S spindle-speed change.
func (p *Planner) QueueSpindleSpeed(speed float64, exec CommandExec) error {
	return p.queueCommandBlock(BlockSpindleSpeed, func(bf *Block) {
		bf.SpindleSpeed = speed
		bf.Exec = exec
	})
}

// QueueStop queues a program stop (M0/M1).
func (p *Planner) QueueStop(exec CommandExec) error {
	return p.queueCommandBlock(BlockStop, func(bf *Block) {
		bf.Exec = exec
	})
}

// QueueEnd queues a program end (M2/M30).
func (p *Planner) QueueEnd(exec CommandExec) error {
	return p.queueCommandBlock(BlockEnd, func(bf *Block) {
		bf.Exec = exec
	})
}

// RequestOutOfBandDwell injects a synchronous delay from a peripheral
// callback. It is applied at the next segment boundary without occupying
// a queue buffer.
func (p *Planner) RequestOutOfBandDwell(seconds float64) {
	p.MR.OutOfBandDwellFlag = true
	p.MR.OutOfBandDwellSeconds = seconds
}

// runCommand dispatches a command block at its synchronization point.
func (p *Planner) runCommand(bf *Block) {
	switch bf.Type {
	case BlockDwell:
		p.sink.PrepDwell(bf.DwellSeconds)
	case BlockCommand, BlockJSONWait, BlockTool, BlockSpindleSpeed, BlockStop, BlockEnd:
		if bf.Exec != nil {
			bf.Exec(bf.CmdValues, bf.CmdFlags)
		}
	}
}
