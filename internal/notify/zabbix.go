package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13 // "ZBXD\x01" + uint64 little-endian length
	maxReplySize     = 64 * 1024
)

var zabbixMagic = []byte{'Z', 'B', 'X', 'D', 0x01}

// ZabbixTarget addresses one trapper item on a Zabbix server.
type ZabbixTarget struct {
	Server string
	Port   int
	Host   string
	Key    string
}

func (t ZabbixTarget) configured() bool {
	return t.Server != "" && t.Host != "" && t.Key != ""
}

// episodeReport is the item value for a loud episode transition. It is JSON
// so a Zabbix item can pull single fields out with JSONPath preprocessing.
type episodeReport struct {
	Event       string  `json:"event"`
	Station     string  `json:"station,omitempty"`
	LevelDB     float64 `json:"level_db"`
	PeakDB      float64 `json:"peak_db"`
	ThresholdDB float64 `json:"threshold_db"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
}

type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
	Clock   int64        `json:"clock"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// SendNoiseZabbix reports the start of a loud episode. The peak of a fresh
// episode is its first level.
func SendNoiseZabbix(ctx context.Context, target ZabbixTarget, station string, level, threshold float64) error {
	return target.report(ctx, episodeReport{
		Event:       EventNoiseDetected,
		Station:     station,
		LevelDB:     level,
		PeakDB:      level,
		ThresholdDB: threshold,
	})
}

// SendClearedZabbix reports the end of a loud episode with its duration and peak.
func SendClearedZabbix(ctx context.Context, target ZabbixTarget, station string, durationMs int64, level, peak, threshold float64) error {
	return target.report(ctx, episodeReport{
		Event:       EventNoiseCleared,
		Station:     station,
		LevelDB:     level,
		PeakDB:      peak,
		ThresholdDB: threshold,
		DurationMs:  durationMs,
	})
}

// SendTestZabbix sends a test report to verify the trapper item.
func SendTestZabbix(ctx context.Context, target ZabbixTarget, station string) error {
	return target.report(ctx, episodeReport{Event: EventTest, Station: station})
}

func (t ZabbixTarget) report(ctx context.Context, r episodeReport) error {
	if !t.configured() {
		return nil
	}
	value, err := json.Marshal(r)
	if err != nil {
		return util.WrapError("marshal zabbix report", err)
	}

	now := time.Now().Unix()
	return t.send(ctx, zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: t.Host, Key: t.Key, Value: string(value), Clock: now}},
		Clock:   now,
	})
}

// send delivers one sender request and checks that the server accepted every item.
func (t ZabbixTarget) send(ctx context.Context, req zabbixRequest) error {
	ctx, cancel := context.WithTimeout(ctx, zabbixTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return util.WrapError("marshal zabbix request", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(t.Server, strconv.Itoa(t.Port)))
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer util.SafeCloseFunc(conn, "zabbix connection")()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return util.WrapError("set zabbix deadline", err)
		}
	}

	if _, err := conn.Write(encodeZabbixFrame(body)); err != nil {
		return util.WrapError("write zabbix request", err)
	}

	reply, err := readZabbixFrame(conn)
	if err != nil {
		return err
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}
	return checkZabbixReply(resp, len(req.Data))
}

func encodeZabbixFrame(body []byte) []byte {
	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(body))
	copy(frame, zabbixMagic)
	binary.LittleEndian.PutUint64(frame[len(zabbixMagic):], uint64(len(body)))
	return append(frame, body...)
}

func readZabbixFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, util.WrapError("read zabbix reply header", err)
	}
	if !bytes.HasPrefix(header, zabbixMagic) {
		return nil, errors.New("invalid zabbix reply header")
	}

	size := binary.LittleEndian.Uint64(header[len(zabbixMagic):])
	switch {
	case size == 0:
		return nil, errors.New("empty zabbix reply")
	case size > maxReplySize:
		return nil, fmt.Errorf("zabbix reply too large: %d bytes", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, util.WrapError("read zabbix reply body", err)
	}
	return body, nil
}

// checkZabbixReply fails unless the server processed all sent items. The
// info line reads "processed: N; failed: M; total: T; seconds spent: S".
func checkZabbixReply(resp zabbixResponse, sent int) error {
	if resp.Response != "success" {
		return fmt.Errorf("zabbix rejected report: %s", resp.Info)
	}

	var processed, failed int
	if _, err := fmt.Sscanf(resp.Info, "processed: %d; failed: %d;", &processed, &failed); err != nil {
		return nil
	}
	if failed > 0 || processed < sent {
		return fmt.Errorf("zabbix processed %d of %d items (check host and key)", processed, sent)
	}
	return nil
}
