package planner

import (
	"fmt"

	"mit.edu/dsg/topsales/common"
)

// SeqScanNode represents a sequential scan over a table.
// It uses the TableOid to identify the target table; TableName is only used when printing the plan.
type SeqScanNode struct {
	TableOid     common.ObjectID
	TableName    string
	outputSchema []common.Type
}

func NewSeqScanNode(tableOid common.ObjectID, tableName string, outputSchema []common.Type) *SeqScanNode {
	return &SeqScanNode{
		TableOid:     tableOid,
		TableName:    tableName,
		outputSchema: outputSchema,
	}
}

func (n *SeqScanNode) OutputSchema() []common.Type {
	return n.outputSchema
}

func (n *SeqScanNode) Children() []PlanNode {
	return nil
}

func (n *SeqScanNode) String() string {
	return fmt.Sprintf("SeqScan: %s TableOID(%d)", n.TableName, n.TableOid)
}
