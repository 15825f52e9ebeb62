package transform

import (
	"fmt"

	"vitess.io/vitess/go/vt/sqlparser"
)

// Global parser instance (reused for efficiency)
var vitessParser *sqlparser.Parser

func init() {
	var err error
	vitessParser, err = sqlparser.New(sqlparser.Options{})
	if err != nil {
		panic("failed to initialize Vitess parser: " + err.Error())
	}
}

// DDLTarget is the object a DDL statement changes.
type DDLTarget struct {
	Database string
	Table    string
}

// ParseDDLTarget returns the database and table named by a DDL statement.
// Unqualified tables leave Database empty.
func ParseDDLTarget(sql string) (DDLTarget, error) {
	stmt, err := vitessParser.Parse(sql)
	if err != nil {
		return DDLTarget{}, fmt.Errorf("failed to parse DDL: %w", err)
	}

	var target DDLTarget
	fromTable := func(t sqlparser.TableName) {
		target.Table = t.Name.String()
		if t.Qualifier.NotEmpty() {
			target.Database = t.Qualifier.String()
		}
	}

	switch parsed := stmt.(type) {
	case *sqlparser.CreateTable:
		fromTable(parsed.Table)
	case *sqlparser.AlterTable:
		fromTable(parsed.Table)
	case *sqlparser.DropTable:
		if len(parsed.FromTables) > 0 {
			fromTable(parsed.FromTables[0])
		}
	case *sqlparser.RenameTable:
		if len(parsed.TablePairs) > 0 {
			fromTable(parsed.TablePairs[0].FromTable)
		}
	case *sqlparser.CreateDatabase:
		target.Database = parsed.DBName.String()
	case *sqlparser.DropDatabase:
		target.Database = parsed.DBName.String()
	case *sqlparser.AlterDatabase:
		target.Database = parsed.DBName.String()
	case sqlparser.DDLStatement:
		table := parsed.GetTable()
		if !table.IsEmpty() {
			fromTable(table)
		}
	default:
		return DDLTarget{}, fmt.Errorf("not a DDL statement: %T", stmt)
	}
	return target, nil
}
