package publisher

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/maxpert/binlogd/pipeline"
)

// FromCommits converts written pipeline transactions to checkpoints.
// sid is the Gtid source id; a zero sid leaves GTID empty.
func FromCommits(serverID uint32, sid [16]byte, commits []pipeline.Commit) []Checkpoint {
	out := make([]Checkpoint, 0, len(commits))
	var source string
	if sid != ([16]byte{}) {
		source = uuid.UUID(sid).String()
	}

	for _, c := range commits {
		if c.Record == nil {
			continue
		}
		r := c.Record
		cp := Checkpoint{
			Batch:      c.Batch,
			CheckPoint: r.CheckPoint,
			SCN:        r.SCN,
			TxSeq:      r.TxSeq,
			Database:   r.DBName,
			Table:      r.Table,
			OpType:     r.OpType.String(),
			File:       c.Position.Name,
			EndPos:     c.Position.Pos,
			TxTime:     r.TxTime,
			ServerID:   serverID,
		}
		if source != "" {
			cp.GTID = fmt.Sprintf("%s:%d", source, r.TxSeq)
		}
		out = append(out, cp)
	}
	return out
}
