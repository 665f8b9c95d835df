package oat

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ClassStatus is the verifier state of a class, as recorded in the
// OAT class table.
type ClassStatus int16

const (
	ClassRetired            ClassStatus = -2
	ClassError              ClassStatus = -1
	ClassNotReady           ClassStatus = 0
	ClassIdx                ClassStatus = 1
	ClassLoaded             ClassStatus = 2
	ClassResolving          ClassStatus = 3
	ClassResolved           ClassStatus = 4
	ClassVerifying          ClassStatus = 5
	ClassRetryVerification  ClassStatus = 6
	ClassVerifyingAtRuntime ClassStatus = 7
	ClassVerified           ClassStatus = 8
	ClassInitializing       ClassStatus = 9
	ClassInitialized        ClassStatus = 10
	ClassStatusMax          ClassStatus = 11
)

func (s ClassStatus) String() string {
	switch s {
	case ClassRetired:
		return "Retired"
	case ClassError:
		return "Error"
	case ClassNotReady:
		return "NotReady"
	case ClassIdx:
		return "Idx"
	case ClassLoaded:
		return "Loaded"
	case ClassResolving:
		return "Resolving"
	case ClassResolved:
		return "Resolved"
	case ClassVerifying:
		return "Verifying"
	case ClassRetryVerification:
		return "RetryVerificationAtRuntime"
	case ClassVerifyingAtRuntime:
		return "VerifyingAtRuntime"
	case ClassVerified:
		return "Verified"
	case ClassInitializing:
		return "Initializing"
	case ClassInitialized:
		return "Initialized"
	case ClassStatusMax:
		return "Max"
	}
	return fmt.Sprintf("status(%d)", int16(s))
}

// Char is the single-character code used in the class status matrix.
func (s ClassStatus) Char() byte {
	switch s {
	case ClassRetired:
		return 'O'
	case ClassError:
		return 'E'
	case ClassNotReady:
		return 'N'
	case ClassIdx:
		return 'I'
	case ClassLoaded:
		return 'L'
	case ClassResolving:
		return 'r'
	case ClassResolved:
		return 'R'
	case ClassVerifying, ClassRetryVerification, ClassVerifyingAtRuntime:
		return 'v'
	case ClassVerified:
		return 'V'
	case ClassInitializing:
		return 'i'
	case ClassInitialized:
		return 'I'
	case ClassStatusMax:
		return 'M'
	}
	return '?'
}

// ClassType describes how much of a class was AOT-compiled.
type ClassType uint16

const (
	ClassAllCompiled  ClassType = 0
	ClassSomeCompiled ClassType = 1
	ClassNoneCompiled ClassType = 2
	ClassTypeMax      ClassType = 3
)

func (t ClassType) String() string {
	switch t {
	case ClassAllCompiled:
		return "AllCompiled"
	case ClassSomeCompiled:
		return "SomeCompiled"
	case ClassNoneCompiled:
		return "NoneCompiled"
	case ClassTypeMax:
		return "Max"
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// Char is the single-character code used in the class status matrix.
func (t ClassType) Char() byte {
	switch t {
	case ClassAllCompiled:
		return 'C'
	case ClassSomeCompiled:
		return 'c'
	case ClassNoneCompiled:
		return 'n'
	case ClassTypeMax:
		return 'M'
	}
	return '?'
}

// ClassInfoSize is the on-disk size of a ClassInfo record.
const ClassInfoSize = 4

// ClassInfo is the 4-byte per-class record: status, then type.
type ClassInfo struct {
	Status ClassStatus `json:"status"`
	Type   ClassType   `json:"type"`
}

// Write encodes the record.
func (ci ClassInfo) Write(w io.Writer) error {
	var buf [ClassInfoSize]byte
	binary.LittleEndian.PutUint16(buf[0:], uint16(ci.Status))
	binary.LittleEndian.PutUint16(buf[2:], uint16(ci.Type))
	_, err := w.Write(buf[:])
	return err
}

// builtClassInfo is the only record a build emits.
var builtClassInfo = ClassInfo{Status: ClassVerified, Type: ClassNoneCompiled}
