package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
)

func TestFITSMalformedHeaders(t *testing.T) {
	primary := func(cards ...string) []byte {
		return fitsHeader(append([]string{"SIMPLE  =                    T"}, cards...)...)
	}
	tests := []struct {
		name  string
		data  []byte
		want  []datanode.NodeType
		cause string
	}{
		{
			name:  "negative NAXIS",
			data:  primary("BITPIX  =                    8", "NAXIS   =                   -1"),
			want:  []datanode.NodeType{datanode.TypeError},
			cause: "NAXIS -1 out of range",
		},
		{
			name:  "huge NAXIS",
			data:  primary("BITPIX  =                    8", "NAXIS   =           1000000000"),
			want:  []datanode.NodeType{datanode.TypeError},
			cause: "out of range",
		},
		{
			name:  "missing NAXISn",
			data:  primary("BITPIX  =                    8", "NAXIS   =                    2", "NAXIS1  =                   10"),
			want:  []datanode.NodeType{datanode.TypeError},
			cause: "NAXIS2",
		},
		{
			name:  "negative NAXISn",
			data:  primary("BITPIX  =                    8", "NAXIS   =                    1", "NAXIS1  =                   -5"),
			want:  []datanode.NodeType{datanode.TypeError},
			cause: "negative axis length",
		},
		{
			name:  "non-integer BITPIX",
			data:  primary("BITPIX  =                  8.5", "NAXIS   =                    0"),
			want:  []datanode.NodeType{datanode.TypeError},
			cause: "BITPIX",
		},
		{
			name:  "missing NAXIS",
			data:  primary("BITPIX  =                    8"),
			want:  []datanode.NodeType{datanode.TypeError},
			cause: "NAXIS",
		},
		{
			name: "size overflow",
			data: primary("BITPIX  =                  -64", "NAXIS   =                    2",
				"NAXIS1  =        4000000000000", "NAXIS2  =        4000000000000"),
			want:  []datanode.NodeType{datanode.TypeError},
			cause: "overflows",
		},
		{
			name:  "truncated data",
			data:  primary("BITPIX  =                    8", "NAXIS   =                    1", "NAXIS1  =               100000"),
			want:  []datanode.NodeType{datanode.TypeHDU, datanode.TypeError},
			cause: "truncated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewFITSNode(context.Background(), datasource.NewBytesSource("bad.fits", tt.data))
			require.NoError(t, err)
			n.SetChildMaker(newMaker())

			var kids []datanode.Node
			var types []datanode.NodeType
			require.NotPanics(t, func() { kids, types = childTypes(t, n) })
			assert.Equal(t, tt.want, types)
			last := kids[len(kids)-1].(*ErrorNode)
			assert.Contains(t, last.Err().Error(), tt.cause)
		})
	}
}

func TestHDUDims(t *testing.T) {
	h := HDU{Cards: []Card{{Keyword: "NAXIS", Value: "2"}, {Keyword: "NAXIS1", Value: "3"}, {Keyword: "NAXIS2", Value: "4"}}}
	dims, err := h.Dims()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, dims)

	_, err = HDU{Cards: []Card{{Keyword: "NAXIS", Value: "-3"}}}.Dims()
	assert.Error(t, err)
}
