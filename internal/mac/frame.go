package mac

// Frame is a decoded MAC frame. Beacon is set for beacon frames and Command
// for command frames; Payload holds the bytes after the MAC content (the
// beacon payload or the network frame of a data frame).
type Frame struct {
	Header  Header
	Beacon  Beacon
	Command Command
	Payload []byte
}

// Unpack decodes a MAC frame without FCS. The payload aliases data.
func Unpack(data []byte) (Frame, int, error) {
	var f Frame
	h, n, err := UnpackHeader(data)
	if err != nil {
		return f, 0, err
	}
	f.Header = h
	switch h.FrameType {
	case FrameBeacon:
		b, used, err := UnpackBeacon(data[n:])
		if err != nil {
			return f, 0, err
		}
		f.Beacon = b
		n += used
	case FrameCommand:
		c, used, err := UnpackCommand(data[n:])
		if err != nil {
			return f, 0, err
		}
		f.Command = c
		n += used
	}
	f.Payload = data[n:]
	return f, len(data), nil
}

// Pack writes the frame to out and returns the number of bytes written.
func (f Frame) Pack(out []byte) (int, error) {
	n, err := f.Header.Pack(out)
	if err != nil {
		return 0, err
	}
	switch f.Header.FrameType {
	case FrameBeacon:
		used, err := f.Beacon.Pack(out[n:])
		if err != nil {
			return 0, err
		}
		n += used
	case FrameCommand:
		if f.Command == nil {
			return 0, UnknownCommandError{}
		}
		used, err := PackCommand(f.Command, out[n:])
		if err != nil {
			return 0, err
		}
		n += used
	}
	if len(out) < n+len(f.Payload) {
		return 0, ErrNotEnoughSpace
	}
	n += copy(out[n:], f.Payload)
	return n, nil
}

// AddressedTo reports whether dst names exactly the device with the given
// short and extended addresses. Broadcasts do not match.
func AddressedTo(dst Address, short ShortAddress, hasShort bool, ext ExtendedAddress) bool {
	switch dst.Mode {
	case AddrShort:
		return hasShort && dst.Short == short
	case AddrExtended:
		return dst.Extended == ext
	}
	return false
}
