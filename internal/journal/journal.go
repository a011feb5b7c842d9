// Package journal keeps a history of profile sessions in a buntdb file.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

const sessionTable = "sessions"

var ErrRecordNotFound = errors.New("session record not found")

// Stop reasons.
const (
	ReasonClosed   = "closed"
	ReasonCrashed  = "disconnected"
	ReasonShutdown = "shutdown"
	ReasonReplaced = "reclaimed"
)

type Record struct {
	ID         string `json:"id"`
	ProfileID  string `json:"profile_id"`
	LocalPort  int    `json:"local_port"`
	TunnelKind string `json:"tunnel_kind"`
	RouteMode  string `json:"route_mode,omitempty"`
	PreProxy   string `json:"pre_proxy,omitempty"`
	BrowserPID int    `json:"browser_pid,omitempty"`
	CorePID    int    `json:"core_pid,omitempty"`
	SSHPID     int    `json:"ssh_pid,omitempty"`
	StartTime  int64  `json:"start_time"`
	StopTime   int64  `json:"stop_time,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

func (r Record) Running() bool { return r.StopTime == 0 }

// PIDs lists the session's recorded processes, browser first.
func (r Record) PIDs() []int {
	var out []int
	for _, pid := range []int{r.BrowserPID, r.CorePID, r.SSHPID} {
		if pid > 0 {
			out = append(out, pid)
		}
	}
	return out
}

type Journal struct {
	db *buntdb.DB
}

// Open opens or creates the journal. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}
	if err := db.CreateIndex("sessions_profile", sessionTable+":*", buntdb.IndexJSON("profile_id"), buntdb.IndexJSON("start_time")); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.CreateIndex("sessions_start", sessionTable+":*", buntdb.IndexJSON("start_time")); err != nil {
		db.Close()
		return nil, err
	}
	_ = db.Shrink()
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func key(id string) string { return sessionTable + ":" + id }

// Start records a new session.
func (j *Journal) Start(rec Record) error {
	if rec.StartTime == 0 {
		rec.StartTime = time.Now().UTC().Unix()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(rec.ID), string(data), nil)
		return err
	})
}

// Stop stamps the end of a session. Stopping twice keeps the first reason.
func (j *Journal) Stop(id, reason string) error {
	return j.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key(id))
		if errors.Is(err, buntdb.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return err
		}
		if !rec.Running() {
			return nil
		}
		rec.StopTime = time.Now().UTC().Unix()
		rec.StopReason = reason
		data, _ := json.Marshal(rec)
		_, _, err = tx.Set(key(id), string(data), nil)
		return err
	})
}

func (j *Journal) Get(id string) (Record, error) {
	var rec Record
	err := j.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key(id))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &rec)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return rec, err
}

// ForProfile returns a profile's sessions, newest first. limit <= 0 returns all.
func (j *Journal) ForProfile(profileID string, limit int) ([]Record, error) {
	out := []Record{}
	pivot := fmt.Sprintf(`{"profile_id":%q,"start_time":%d}`, profileID, int64(1<<62))
	err := j.db.View(func(tx *buntdb.Tx) error {
		return tx.DescendLessOrEqual("sessions_profile", pivot, func(_, val string) bool {
			var rec Record
			if err := json.Unmarshal([]byte(val), &rec); err != nil {
				return true
			}
			if rec.ProfileID != profileID {
				return false
			}
			out = append(out, rec)
			return limit <= 0 || len(out) < limit
		})
	})
	return out, err
}

// MarkOrphans stops every record still open, e.g. after a crash of the
// control process, and returns them as they were before the stop.
func (j *Journal) MarkOrphans(reason string) ([]Record, error) {
	var open []Record
	err := j.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("sessions_start", func(_, val string) bool {
			var rec Record
			if json.Unmarshal([]byte(val), &rec) == nil && rec.Running() {
				open = append(open, rec)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range open {
		if err := j.Stop(rec.ID, reason); err != nil {
			return nil, err
		}
	}
	return open, nil
}
