package mysqlproto

// LenEncString returns the length-encoded string at the start of buf as a
// slice into buf (no copy) along with the total number of bytes consumed
// (prefix plus contents). It returns ErrNeedMore if buf does not yet hold
// the full string.
func LenEncString(buf []byte) (s []byte, n int, err error) {
	length, prefixLen, err := LenEncInt(buf)
	if err != nil {
		return nil, 0, err
	}
	total := prefixLen + int(length)
	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}
	return buf[prefixLen:total], total, nil
}

// LenEncStringCopy behaves like LenEncString but returns a copy of the
// string bytes, safe to retain after the underlying packet buffer is
// reused or released.
func LenEncStringCopy(buf []byte) (s []byte, n int, err error) {
	ref, n, err := LenEncString(buf)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, len(ref))
	copy(out, ref)
	return out, n, nil
}

// SkipLenEncString reports how many bytes a length-encoded string at the
// start of buf occupies in total, without copying or slicing its contents.
func SkipLenEncString(buf []byte) (n int, err error) {
	length, prefixLen, err := LenEncInt(buf)
	if err != nil {
		return 0, err
	}
	total := prefixLen + int(length)
	if len(buf) < total {
		return 0, ErrNeedMore
	}
	return total, nil
}
