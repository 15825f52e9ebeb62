package publisher

import (
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/binlogd/encoding"
	"github.com/maxpert/binlogd/pipeline"
	"github.com/maxpert/binlogd/record"
)

func TestFromCommits(t *testing.T) {
	commits := []pipeline.Commit{
		{
			Batch:  4,
			TaskID: 10,
			Record: &record.Record{
				CheckPoint: "mysql-bin.000003:120",
				DBName:     "shop",
				DDLSQL:     "CREATE TABLE t (a INT)",
				OpType:     record.OpDDL,
				TxSeq:      55,
				SCN:        7,
				TxTime:     1700000000456,
			},
			Position: mysql.Position{Name: "binlog.000002", Pos: 900},
		},
		{Batch: 4, TaskID: 11}, // no record
		{
			Batch:    4,
			TaskID:   12,
			Record:   &record.Record{DBName: "shop", Table: "orders", OpType: record.OpDelete, TxSeq: 56},
			Position: mysql.Position{Name: "binlog.000002", Pos: 1200},
		},
	}

	cps := FromCommits(2, [16]byte{}, commits)
	require.Len(t, cps, 2)

	assert.Equal(t, Checkpoint{
		Batch:      4,
		CheckPoint: "mysql-bin.000003:120",
		SCN:        7,
		TxSeq:      55,
		Database:   "shop",
		OpType:     "DDL",
		File:       "binlog.000002",
		EndPos:     900,
		TxTime:     1700000000456,
		ServerID:   2,
	}, cps[0])
	assert.Equal(t, "DELETE", cps[1].OpType)
	assert.Empty(t, cps[1].GTID, "zero sid leaves gtid empty")

	sid := [16]byte{15: 1}
	cps = FromCommits(2, sid, commits[2:])
	assert.Equal(t, "00000000-0000-0000-0000-000000000001:56", cps[0].GTID)
}

func TestCheckpointMsgpackRoundTrip(t *testing.T) {
	cp := Checkpoint{Seq: 1, Batch: 2, CheckPoint: "x", TxSeq: 3, Table: "t", OpType: "UPDATE", EndPos: 4, GTID: "g"}

	data, err := encoding.Marshal(&cp)
	require.NoError(t, err)

	var decoded Checkpoint
	require.NoError(t, encoding.Unmarshal(data, &decoded))
	assert.Equal(t, cp, decoded)
}
