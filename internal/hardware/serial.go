package hardware

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SerialPort is a minimal raw-mode UART wrapper used by the IMU (BNO085)
// and motor controller (RoboHAT MM1) devices. golang.org/x/sys is already
// part of the teacher's dependency set (used there for uname(2) and
// capability checks); this reuses it for termios configuration rather
// than introducing a new serial library the corpus never imports.
type SerialPort struct {
	f *os.File
}

// OpenSerial opens path in raw mode at the given baud rate.
func OpenSerial(path string, baud int) (*SerialPort, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	speed, ok := baudToUnix(baud)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("serial: unsupported baud rate %d", baud)
	}

	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: get termios %s: %w", path, err)
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1
	t.Ispeed = speed
	t.Ospeed = speed

	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: set termios %s: %w", path, err)
	}

	return &SerialPort{f: f}, nil
}

func (s *SerialPort) Read(p []byte) (int, error)  { return s.f.Read(p) }
func (s *SerialPort) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *SerialPort) Close() error                { return s.f.Close() }

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	default:
		return 0, false
	}
}
