// Copyright 2024 The Probevm Authors
// This file is part of Probevm.
//
// Probevm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Probevm is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Probevm. If not, see <http://www.gnu.org/licenses/>.

package ffi

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/probechain/probevm-core/typeck"
	"github.com/probechain/probevm-core/value"
)

// AgentMessage is one inter-agent message, the payload behind
// agent.send/agent.recv. Identity, reputation, and capability discovery
// (the rest of the upstream agent package) are out of scope here; message
// passing is the one piece of the actor model the VM's cooperative
// scheduler actually needs a host surface for.
type AgentMessage struct {
	From    [20]byte
	To      [20]byte
	Payload []byte
	Nonce   uint64
}

// Mailbox is the in-memory per-address FIFO message queue agent.send
// appends to and agent.recv drains. It is shared by every Thread in a
// serialization group, the same way package heap's Heap is, so a message
// sent by one spawned task is visible to a recv on another.
type Mailbox struct {
	mu    sync.Mutex
	boxes map[[20]byte][]AgentMessage
	nonce uint64
}

func newMailbox() *Mailbox {
	return &Mailbox{boxes: make(map[[20]byte][]AgentMessage)}
}

func (m *Mailbox) send(msg AgentMessage) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce++
	msg.Nonce = m.nonce
	m.boxes[msg.To] = append(m.boxes[msg.To], msg)
	return msg.Nonce
}

// recv pops the oldest pending message for addr, if any.
func (m *Mailbox) recv(addr [20]byte) (AgentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.boxes[addr]
	if len(q) == 0 {
		return AgentMessage{}, false
	}
	msg := q[0]
	m.boxes[addr] = q[1:]
	return msg, true
}

func registerAgent(r *Registry) {
	r.Register("agent.send", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(addressTypeID), tPtr(bytesTypeID)}, []*typeck.TypeCkInfo{tInt()}),
		Checked:   agentSend,
	})
	r.Register("agent.recv", HostFunc{
		Signature: tFunc(nil, []*typeck.TypeCkInfo{tPtr(agentMsgTypeID)}),
		Checked:   agentRecv,
	})
}

func agentSend(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 2 {
		return nil, errors.Errorf("agent.send: expects 2 arguments, got %d", len(args))
	}
	toBytes, err := bytesArg(args[0])
	if err != nil {
		return nil, err
	}
	if len(toBytes) != 20 {
		return nil, errors.Errorf("agent.send: recipient must be 20 bytes, got %d", len(toBytes))
	}
	payload, err := bytesArg(args[1])
	if err != nil {
		return nil, err
	}
	var to [20]byte
	copy(to[:], toBytes)
	nonce := r.mailbox.send(AgentMessage{From: r.host.Caller, To: to, Payload: append([]byte(nil), payload...)})
	return []value.Value{value.NewInt(int64(nonce))}, nil
}

func agentRecv(_ context.Context, r *Registry, _ []value.Value) ([]value.Value, error) {
	msg, ok := r.mailbox.recv(r.host.Caller)
	if !ok {
		return []value.Value{value.NewNull()}, nil
	}
	w := r.hp.AllocUntracked(agentMsgTypeID, &msg)
	return []value.Value{value.NewPtr(w, 0)}, nil
}
