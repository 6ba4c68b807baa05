package nodes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// FITS layout constants.
const (
	FITSBlockSize = 2880
	FITSCardSize  = 80
)

// Card is one FITS header card.
type Card struct {
	Keyword string
	Value   string
	Comment string
}

// HDU is one header and data unit of a FITS file.
type HDU struct {
	Index    int
	Cards    []Card
	Offset   int64
	DataSize int64
	Location string
}

// Keyword returns the value of the first card with the given keyword.
func (h HDU) Keyword(key string) (string, bool) {
	for _, c := range h.Cards {
		if c.Keyword == key {
			return c.Value, true
		}
	}
	return "", false
}

// Int returns an integer keyword value.
func (h HDU) Int(key string) (int64, bool) {
	v, ok := h.Keyword(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

// Name returns EXTNAME, or a positional name.
func (h HDU) Name() string {
	if name, ok := h.Keyword("EXTNAME"); ok && name != "" {
		return name
	}
	if h.Index == 0 {
		return "Primary"
	}
	return fmt.Sprintf("HDU %d", h.Index)
}

// Kind returns the XTENSION value, or IMAGE for the primary HDU.
func (h HDU) Kind() string {
	if x, ok := h.Keyword("XTENSION"); ok {
		return x
	}
	return "IMAGE"
}

// MaxAxes is the largest NAXIS the FITS standard allows.
const MaxAxes = 999

// Dims returns the NAXISn values. It fails when NAXIS is missing or out of
// range, or when an axis length is missing or negative.
func (h HDU) Dims() ([]int64, error) {
	naxis, ok := h.Int("NAXIS")
	if !ok {
		return nil, fmt.Errorf("HDU %d: missing or non-integer NAXIS", h.Index)
	}
	if naxis < 0 || naxis > MaxAxes {
		return nil, fmt.Errorf("HDU %d: NAXIS %d out of range", h.Index, naxis)
	}
	dims := make([]int64, 0, naxis)
	for i := int64(1); i <= naxis; i++ {
		d, ok := h.Int(fmt.Sprintf("NAXIS%d", i))
		if !ok {
			return nil, fmt.Errorf("HDU %d: missing or non-integer NAXIS%d", h.Index, i)
		}
		if d < 0 {
			return nil, fmt.Errorf("HDU %d: negative axis length %d", h.Index, d)
		}
		dims = append(dims, d)
	}
	return dims, nil
}

// dataSize computes the unpadded size of the data part from the mandatory keywords.
func (h HDU) dataSize() (int64, error) {
	bitpix, ok := h.Int("BITPIX")
	if !ok {
		return 0, fmt.Errorf("HDU %d: missing or non-integer BITPIX", h.Index)
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return 0, fmt.Errorf("HDU %d: invalid BITPIX %d", h.Index, bitpix)
	}
	dims, err := h.Dims()
	if err != nil {
		return 0, err
	}
	if len(dims) == 0 {
		return 0, nil
	}
	pcount, _ := h.Int("PCOUNT")
	gcount, ok := h.Int("GCOUNT")
	if !ok {
		gcount = 1
	}
	if pcount < 0 || gcount < 0 {
		return 0, fmt.Errorf("HDU %d: negative PCOUNT or GCOUNT", h.Index)
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}
	n := int64(1)
	for _, d := range dims {
		if n, ok = mulSize(n, d); !ok {
			return 0, fmt.Errorf("HDU %d: data size overflows", h.Index)
		}
	}
	if n > math.MaxInt64-pcount {
		return 0, fmt.Errorf("HDU %d: data size overflows", h.Index)
	}
	size, ok := mulSize(bitpix/8, pcount+n)
	if ok {
		size, ok = mulSize(size, gcount)
	}
	if !ok || size > math.MaxInt64-FITSBlockSize {
		return 0, fmt.Errorf("HDU %d: data size overflows", h.Index)
	}
	return size, nil
}

// mulSize multiplies two non-negative sizes, reporting overflow.
func mulSize(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

// ReadHDUs scans a FITS stream and returns its HDUs. HDUs read before a
// failure are returned along with the error.
func ReadHDUs(ctx context.Context, r io.Reader, location string) ([]HDU, error) {
	br := bufio.NewReaderSize(r, FITSBlockSize)
	var (
		hdus   []HDU
		offset int64
	)
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return hdus, errors.Cancelled(err)
		}
		cards, headerSize, err := readHeader(br)
		if err == io.EOF && index > 0 {
			return hdus, nil
		}
		if err != nil {
			return hdus, fmt.Errorf("HDU %d header at offset %d: %w", index, offset, err)
		}
		hdu := HDU{Index: index, Cards: cards, Offset: offset, Location: location}
		size, err := hdu.dataSize()
		if err != nil {
			return hdus, err
		}
		hdu.DataSize = size
		padded := pad(size)
		if n, err := io.CopyN(io.Discard, br, padded); err != nil {
			return append(hdus, hdu), fmt.Errorf("HDU %d data truncated after %d of %d bytes: %w", index, n, padded, io.ErrUnexpectedEOF)
		}
		hdus = append(hdus, hdu)
		offset += headerSize + padded
	}
}

func pad(n int64) int64 {
	if rem := n % FITSBlockSize; rem != 0 {
		n += FITSBlockSize - rem
	}
	return n
}

// readHeader reads header blocks up to and including the one holding END.
// It returns io.EOF if the stream ends cleanly before the header starts.
func readHeader(r io.Reader) ([]Card, int64, error) {
	block := make([]byte, FITSBlockSize)
	var (
		cards []Card
		size  int64
	)
	for {
		n, err := io.ReadFull(r, block)
		if err == io.EOF && size == 0 {
			return nil, 0, io.EOF
		}
		if err != nil {
			return nil, size + int64(n), fmt.Errorf("incomplete header block: %w", io.ErrUnexpectedEOF)
		}
		size += FITSBlockSize
		for i := 0; i < FITSBlockSize; i += FITSCardSize {
			card := parseCard(string(block[i : i+FITSCardSize]))
			if card.Keyword == "END" {
				return cards, size, nil
			}
			if card.Keyword != "" {
				cards = append(cards, card)
			}
		}
	}
}

func parseCard(raw string) Card {
	card := Card{Keyword: strings.TrimSpace(raw[:8])}
	if len(raw) < 10 || raw[8:10] != "= " {
		card.Comment = strings.TrimSpace(raw[8:])
		return card
	}
	rest := strings.TrimSpace(raw[10:])
	if strings.HasPrefix(rest, "'") {
		var b strings.Builder
		i := 1
		for i < len(rest) {
			if rest[i] == '\'' {
				if i+1 < len(rest) && rest[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				break
			}
			b.WriteByte(rest[i])
			i++
		}
		card.Value = strings.TrimRight(b.String(), " ")
		if _, comment, ok := strings.Cut(rest[min(i+1, len(rest)):], "/"); ok {
			card.Comment = strings.TrimSpace(comment)
		}
		return card
	}
	value, comment, _ := strings.Cut(rest, "/")
	card.Value = strings.TrimSpace(value)
	card.Comment = strings.TrimSpace(comment)
	return card
}

// FITSNode represents a FITS file.
type FITSNode struct {
	datanode.BaseNode
	src datasource.DataSource
}

// NewFITSNode creates a FITS node. It declines sources without a FITS
// primary header signature.
func NewFITSNode(ctx context.Context, src datasource.DataSource) (*FITSNode, error) {
	magic, err := src.Magic(ctx, FITSCardSize)
	if err != nil {
		return nil, fmt.Errorf("read FITS signature of %s: %w", src.Name(), err)
	}
	if !IsFITSMagic(magic) {
		return nil, errors.NoSuchData("%s has no FITS signature", src.Name())
	}
	return &FITSNode{
		BaseNode: datanode.NewBaseNode(src.Name(), datanode.TypeFITS, datanode.IconFITS, true),
		src:      src,
	}, nil
}

// Source returns the data source.
func (n *FITSNode) Source() datasource.DataSource { return n.src }

// Description gives the file length.
func (n *FITSNode) Description() string {
	if l := n.src.Length(); l >= 0 {
		return fmt.Sprintf("FITS, %d bytes", l)
	}
	return "FITS"
}

// Details gives the location and size.
func (n *FITSNode) Details() []datanode.Detail {
	return []datanode.Detail{
		{Key: "Location", Value: n.src.Location()},
		{Key: "Length", Value: fmt.Sprint(n.src.Length())},
	}
}

// Children returns one child per HDU. A damaged file yields the readable HDUs
// followed by an error node.
func (n *FITSNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) (kids []datanode.Node, err error) {
		maker := makerFor(n)
		rc, err := n.src.Open(ctx)
		if err != nil {
			if errors.IsCancelled(err) {
				return nil, errors.Cancelled(err)
			}
			return []datanode.Node{maker.MakeErrorNode(ctx, n, err)}, nil
		}
		defer func() {
			err = multierr.Append(err, rc.Close())
		}()
		hdus, rerr := ReadHDUs(ctx, rc, n.src.Location())
		if errors.IsCancelled(rerr) {
			return nil, rerr
		}
		objs := make([]any, len(hdus))
		for i, h := range hdus {
			objs[i] = h
		}
		kids, err = makeChildren(ctx, n, objs)
		if err != nil {
			return nil, err
		}
		if rerr != nil {
			kids = append(kids, maker.MakeErrorNode(ctx, n, rerr))
		}
		return kids, nil
	})
}

// HDUNode represents one FITS HDU.
type HDUNode struct {
	datanode.BaseNode
	hdu HDU
}

// NewHDUNode creates an HDU node.
func NewHDUNode(ctx context.Context, hdu HDU) (*HDUNode, error) {
	return &HDUNode{
		BaseNode: datanode.NewBaseNode(hdu.Name(), datanode.TypeHDU, datanode.IconHDU, false),
		hdu:      hdu,
	}, nil
}

// HDU returns the header and data unit.
func (n *HDUNode) HDU() HDU { return n.hdu }

// Description gives the HDU kind and dimensions.
func (n *HDUNode) Description() string {
	dims, err := n.hdu.Dims()
	if err != nil || len(dims) == 0 {
		return n.hdu.Kind()
	}
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return fmt.Sprintf("%s %s", n.hdu.Kind(), strings.Join(parts, "x"))
}

// Details lists the valued header cards.
func (n *HDUNode) Details() []datanode.Detail {
	details := []datanode.Detail{
		{Key: "Offset", Value: fmt.Sprint(n.hdu.Offset)},
		{Key: "Data bytes", Value: fmt.Sprint(n.hdu.DataSize)},
	}
	for _, c := range n.hdu.Cards {
		if c.Value == "" {
			continue
		}
		details = append(details, datanode.Detail{Key: c.Keyword, Value: c.Value})
	}
	return details
}
