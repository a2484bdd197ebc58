package rpcchannel

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vorteil/vmtoolsd/pkg/backdoor"
)

// SendRPCI pushes command over a freshly opened RPCI channel and copies any
// reply into reply, truncated to len(reply)-1 bytes if the host's response
// is larger. It returns the number of reply bytes written. A failed close
// is logged but does not change the result — the RPCI channel is transient
// and discarded either way.
func SendRPCI(port backdoor.Port, command []byte, reply *[BufferCapacity]byte) (int, error) {
	var rpci Channel

	if err := rpci.Open(port, ProtoRPCI); err != nil {
		logrus.Errorf("rpcchannel: rpci channel open failed: %v", err)
		return 0, err
	}

	n, sendErr := 0, rpci.Send(port, command)
	if sendErr != nil {
		logrus.Errorf("rpcchannel: unable to send rpci command: %v", sendErr)
	} else {
		length, dataID, lenErr := rpci.GetLength(port)
		if lenErr != nil {
			logrus.Errorf("rpcchannel: failed to get length of rpci response: %v", lenErr)
			sendErr = lenErr
		} else if length > 0 {
			if int(length) >= len(reply) {
				length = uint32(len(reply) - 1)
			}
			if dataErr := rpci.GetData(port, length, dataID, reply[:]); dataErr != nil {
				logrus.Errorf("rpcchannel: failed to get rpci response data: %v", dataErr)
				sendErr = dataErr
			} else {
				n = int(length)
			}
		}
	}

	if closeErr := rpci.Close(port); closeErr != nil {
		logrus.Errorf("rpcchannel: unable to close rpci channel: %v", closeErr)
	}

	return n, sendErr
}

// ResponseSuccessful reports whether an RPCI reply indicates the host
// accepted the request: its first two bytes must be ASCII '1' then ' '.
func ResponseSuccessful(reply []byte) bool {
	return len(reply) >= 2 && reply[0] == '1' && reply[1] == ' '
}

// FormatInto renders a printf-style RPCI command into buf and returns the
// formatted slice. It refuses (returns ok=false) if the result would fill
// or overflow the buffer, matching the reference formatter's refusal to
// send a command it could not fit.
func FormatInto(buf *[BufferCapacity]byte, format string, args ...interface{}) (formatted []byte, ok bool) {
	s := fmt.Sprintf(format, args...)
	if len(s) >= len(buf) {
		logrus.Errorf("rpcchannel: rpci command %q didn't fit in buffer", format)
		return nil, false
	}
	n := copy(buf[:], s)
	return buf[:n], true
}
