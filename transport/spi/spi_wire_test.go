//nolint:paralleltest // Test file - parallel tests add complexity
package spi

import (
	"errors"
	"testing"

	sdspi "github.com/ZaparooProject/go-sdspi"
	virt "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var errPortClosed = errors.New("port is closed")

// MockSPIConn implements spi.Conn backed by a VirtualCard. Every Tx is one
// chip-select frame of full-duplex bytes.
type MockSPIConn struct {
	card    *virt.VirtualCard
	txSizes []int
	// keepCS records, per transfer, whether CS stayed asserted after it.
	keepCS  []bool
	maxTx   int
	closed  bool
}

// NewMockSPIConn creates a new mock SPI connection.
func NewMockSPIConn(card *virt.VirtualCard) *MockSPIConn {
	return &MockSPIConn{card: card}
}

// Tx implements spi.Conn.Tx.
//
//nolint:varnamelen // Interface compliance requires these parameter names
func (m *MockSPIConn) Tx(w, r []byte) error {
	return m.tx(w, r, false)
}

func (m *MockSPIConn) tx(w, r []byte, keepCS bool) error {
	if m.closed {
		return errPortClosed
	}
	if m.maxTx > 0 && len(w) > m.maxTx {
		return errors.New("transfer exceeds MaxTxSize")
	}
	m.txSizes = append(m.txSizes, len(w))
	m.keepCS = append(m.keepCS, keepCS)
	if r == nil {
		r = make([]byte, len(w))
	}
	return m.card.Transfer(w, r)
}

// Duplex implements conn.Conn.
func (*MockSPIConn) Duplex() conn.Duplex {
	return conn.Full
}

// String returns connection name.
func (*MockSPIConn) String() string {
	return "mock://spi"
}

// TxPackets implements spi.Conn.
func (m *MockSPIConn) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := m.tx(pkt.W, pkt.R, pkt.KeepCS); err != nil {
			return err
		}
	}
	return nil
}

// LimitedSPIConn adds conn.Limits to MockSPIConn.
type LimitedSPIConn struct {
	*MockSPIConn
}

// MaxTxSize implements conn.Limits.
func (l LimitedSPIConn) MaxTxSize() int {
	return l.maxTx
}

// MockSPIPort implements spi.PortCloser interface.
type MockSPIPort struct {
	conn   *MockSPIConn
	closed bool
}

// NewMockSPIPort creates a mock SPI port.
func NewMockSPIPort(card *virt.VirtualCard) *MockSPIPort {
	return &MockSPIPort{conn: NewMockSPIConn(card)}
}

// Connect implements spi.Port.
func (p *MockSPIPort) Connect(_ physic.Frequency, _ spi.Mode, _ int) (spi.Conn, error) {
	return p.conn, nil
}

// Close implements io.Closer.
func (p *MockSPIPort) Close() error {
	p.closed = true
	p.conn.closed = true
	return nil
}

// String returns port name.
func (*MockSPIPort) String() string {
	return "mock://spi"
}

// LimitSpeed implements spi.Port.
func (*MockSPIPort) LimitSpeed(_ physic.Frequency) error {
	return nil
}

// mockPin records chip-select levels.
type mockPin struct {
	gpio.PinOut
	levels []gpio.Level
}

func (p *mockPin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return nil
}

var (
	_ spi.Conn       = (*MockSPIConn)(nil)
	_ spi.PortCloser = (*MockSPIPort)(nil)
	_ conn.Limits    = LimitedSPIConn{}
)

// newTestBus creates a Bus on the mock port the way New does after opening
// the port.
func newTestBus(t *testing.T, card *virt.VirtualCard, cs gpio.PinOut) (*Bus, *MockSPIPort) {
	t.Helper()
	port := NewMockSPIPort(card)
	c, err := port.Connect(DefaultFrequency, mode, 8)
	require.NoError(t, err)
	o, err := applyOptions(nil)
	require.NoError(t, err)
	bus, err := newBus(c, port, "mock://spi", o, cs)
	require.NoError(t, err)
	return bus, port
}

func TestSPI_PowerUpClocksBeforeCommands(t *testing.T) {
	card := virt.NewVirtualCard()
	_, port := newTestBus(t, card, nil)

	require.NotEmpty(t, port.conn.txSizes)
	assert.Equal(t, powerUpBytes, port.conn.txSizes[0])
	assert.Equal(t, powerUpBytes, card.Exchanges())
	assert.Empty(t, card.Commands())
}

func TestSPI_PowerUpWithChipSelect(t *testing.T) {
	card := virt.NewVirtualCard()
	pin := &mockPin{}
	_, _ = newTestBus(t, card, pin)

	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.levels)
}

func TestSPI_HardwareChipSelectHeldAcrossTransactions(t *testing.T) {
	card := virt.NewVirtualCard()
	bus, port := newTestBus(t, card, nil)
	require.True(t, bus.keepCS)

	dev, err := sdspi.New(bus)
	require.NoError(t, err)
	require.True(t, dev.Ready(), "init error: %v", dev.Err())
	require.NoError(t, dev.WriteBlock(make([]byte, sdspi.BlockSize)))
	require.NoError(t, dev.SeekSector(0))
	require.NoError(t, dev.ReadBlock(make([]byte, sdspi.BlockSize)))

	keep := port.conn.keepCS
	require.Greater(t, len(keep), 1)
	assert.False(t, keep[0], "power-up clocks release CS")
	for i, k := range keep[1:] {
		assert.True(t, k, "transfer %d released CS", i+1)
	}

	n := len(keep)
	require.NoError(t, bus.Close())
	require.Len(t, port.conn.keepCS, n+1)
	assert.False(t, port.conn.keepCS[n], "close releases CS")
	assert.Equal(t, 1, port.conn.txSizes[n])
}

func TestSPI_GPIOChipSelectUsesPlainTransfers(t *testing.T) {
	card := virt.NewVirtualCard()
	pin := &mockPin{}
	bus, port := newTestBus(t, card, pin)
	require.False(t, bus.keepCS)

	dev, err := sdspi.New(bus)
	require.NoError(t, err)
	require.True(t, dev.Ready(), "init error: %v", dev.Err())

	assert.NotContains(t, port.conn.keepCS, true)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.levels)
}

func TestSPI_WithoutPowerUp(t *testing.T) {
	card := virt.NewVirtualCard()
	o, err := applyOptions([]Option{WithoutPowerUp()})
	require.NoError(t, err)

	_, err = newBus(NewMockSPIConn(card), nil, "mock://spi", o, nil)
	require.NoError(t, err)
	assert.Zero(t, card.Exchanges())
}

func TestSPI_DeviceInitialization(t *testing.T) {
	card := virt.NewVirtualCard()
	bus, _ := newTestBus(t, card, nil)

	dev, err := sdspi.New(bus)
	require.NoError(t, err)
	require.Equal(t, sdspi.StateReady, dev.State(), "init error: %v", dev.Err())
	assert.Equal(t, uint64(1000*1024), dev.BlockCount())
	assert.Equal(t, uint32(512), dev.BlockSize())
}

func TestSPI_ReadWriteRoundTrip(t *testing.T) {
	card := virt.NewVirtualCard()
	bus, _ := newTestBus(t, card, nil)
	dev, err := sdspi.New(bus)
	require.NoError(t, err)
	require.True(t, dev.Ready())

	data := make([]byte, sdspi.BlockSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, dev.SeekSector(42))
	require.NoError(t, dev.WriteBlock(data))
	assert.Equal(t, data, card.Block(42))

	got := make([]byte, sdspi.BlockSize)
	require.NoError(t, dev.SeekSector(42))
	require.NoError(t, dev.ReadBlock(got))
	assert.Equal(t, data, got)
}

func TestSPI_TransferRespectsMaxTxSize(t *testing.T) {
	card := virt.NewVirtualCard()
	mock := NewMockSPIConn(card)
	mock.maxTx = 64
	o, err := applyOptions([]Option{WithoutPowerUp()})
	require.NoError(t, err)
	bus, err := newBus(LimitedSPIConn{mock}, nil, "mock://spi", o, nil)
	require.NoError(t, err)
	require.Equal(t, 64, bus.maxTx)

	w := make([]byte, 200)
	r := make([]byte, 200)
	require.NoError(t, bus.Transfer(w, r))
	assert.Equal(t, []int{64, 64, 64, 8}, mock.txSizes)
}

func TestSPI_TransferLengthMismatch(t *testing.T) {
	card := virt.NewVirtualCard()
	bus, _ := newTestBus(t, card, nil)

	err := bus.Transfer(make([]byte, 4), make([]byte, 3))
	require.ErrorIs(t, err, sdspi.ErrInvalidParameter)
}

func TestSPI_ExchangeBufferReturnsLastByte(t *testing.T) {
	card := virt.NewVirtualCard()
	bus, _ := newTestBus(t, card, nil)

	last, err := bus.ExchangeBuffer(nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), last)

	// CMD0 with its CRC; the card answers R1 idle after one Ncr byte.
	cmd0 := []byte{0x40, 0, 0, 0, 0, 0x95, 0xFF, 0xFF}
	last, err = bus.ExchangeBuffer(cmd0)
	require.NoError(t, err)
	assert.Equal(t, byte(virt.R1Idle), last)
}

func TestSPI_PortClosed(t *testing.T) {
	card := virt.NewVirtualCard()
	bus, port := newTestBus(t, card, nil)
	port.conn.closed = true

	_, err := bus.Exchange(0xFF)
	require.ErrorIs(t, err, errPortClosed)
}

func TestSPI_Close(t *testing.T) {
	card := virt.NewVirtualCard()
	pin := &mockPin{}
	bus, port := newTestBus(t, card, pin)

	require.NoError(t, bus.Close())
	assert.True(t, port.closed)
	assert.Equal(t, gpio.High, pin.levels[len(pin.levels)-1])

	_, err := bus.Exchange(0xFF)
	require.ErrorIs(t, err, sdspi.ErrBusClosed)
	require.NoError(t, bus.Close())
}

func TestSPI_String(t *testing.T) {
	card := virt.NewVirtualCard()
	bus, _ := newTestBus(t, card, nil)
	assert.Equal(t, "spi:mock://spi", bus.String())
}

func TestSPI_WithFrequencyRejectsZero(t *testing.T) {
	_, err := applyOptions([]Option{WithFrequency(0)})
	require.Error(t, err)

	o, err := applyOptions([]Option{WithFrequency(25 * physic.MegaHertz)})
	require.NoError(t, err)
	assert.Equal(t, 25*physic.MegaHertz, o.frequency)
}
