// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package walwriter

import (
	"encoding/json"
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
)

// NatsConfig selects the broker and the subjects carrying sensor messages.
type NatsConfig struct {
	Address  string   `json:"address"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Subjects []string `json:"subjects"`
}

// brokerMessage is the wire form of one producer message on the broker.
type brokerMessage struct {
	DeviceName   string  `json:"device_name"`
	MsgType      string  `json:"msg_type"`
	MeasureName  string  `json:"measure_name"`
	MeasureUnits string  `json:"measure_units"`
	Freq         float64 `json:"freq"`
	DataTime     int64   `json:"data_time_ns"`
	Data         string  `json:"data"`
	ScaleM       float64 `json:"scale_m"`
	ScaleB       float64 `json:"scale_b"`
}

// Subscriber feeds broker messages into a writer pool. The broker consumer
// itself stays a narrow external collaborator: everything it knows about
// the pipeline is Manager.Write.
type Subscriber struct {
	conn *nats.Conn
	subs []*nats.Subscription
	mgr  *Manager
}

// Connect dials the broker and subscribes to every configured subject.
func Connect(cfg NatsConfig, mgr *Manager) (*Subscriber, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			cclog.Warnf("[WALWRITER]> nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			cclog.Infof("[WALWRITER]> nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("walwriter: connect %s: %w", cfg.Address, err)
	}

	s := &Subscriber{conn: conn, mgr: mgr}
	for _, subject := range cfg.Subjects {
		sub, err := conn.Subscribe(subject, s.handle)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("walwriter: subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		cclog.Infof("[WALWRITER]> subscribed to %s", subject)
	}
	return s, nil
}

func (s *Subscriber) handle(m *nats.Msg) {
	var wire brokerMessage
	if err := json.Unmarshal(m.Data, &wire); err != nil {
		cclog.Errorf("[WALWRITER]> bad message on %s: %v", m.Subject, err)
		return
	}

	msg := &ProducerMessage{
		DeviceName:   wire.DeviceName,
		MsgType:      wire.MsgType,
		MeasureName:  wire.MeasureName,
		MeasureUnits: wire.MeasureUnits,
		Freq:         wire.Freq,
		DataTime:     wire.DataTime,
		ServerTime:   time.Now().UnixNano(),
		Data:         wire.Data,
		ScaleM:       wire.ScaleM,
		ScaleB:       wire.ScaleB,
	}
	if err := s.mgr.Write(msg); err != nil {
		cclog.Errorf("[WALWRITER]> write %s/%s: %v", wire.DeviceName, wire.MeasureName, err)
	}
}

// Close unsubscribes from every subject and closes the connection. Messages
// not yet delivered to the handler are not processed.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
