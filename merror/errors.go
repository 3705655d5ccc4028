// Copyright 2026 The ESTCORP authors
//   This file is part of ESTCORP.
//
//  ESTCORP is free software: you can redistribute it and/or modify
//  it under the terms of the GNU General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  ESTCORP is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU General Public License for more details.
//
//  You should have received a copy of the GNU General Public License
//  along with ESTCORP.  If not, see <https://www.gnu.org/licenses/>.

package merror

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// InputError signals a problem with user provided data
// (configuration, command arguments, source files).
type InputError struct {
	Msg string
}

func (err InputError) Error() string {
	return err.Msg
}

func (err InputError) MarshalJSON() ([]byte, error) {
	if err.Msg != "" {
		return sonic.Marshal(err.Msg)
	}
	return sonic.Marshal(nil)
}

func NewInputError(format string, args ...any) InputError {
	return InputError{Msg: fmt.Sprintf(format, args...)}
}

// ----------------------------

type InternalError struct {
	Msg string
}

func (err InternalError) Error() string {
	return err.Msg
}

func (err InternalError) MarshalJSON() ([]byte, error) {
	if err.Msg != "" {
		return sonic.Marshal(err.Msg)
	}
	return sonic.Marshal(nil)
}

func NewInternalError(format string, args ...any) InternalError {
	return InternalError{Msg: fmt.Sprintf(format, args...)}
}

// ---------------------------

// TimeoutError is returned when an external program
// (e.g. a tagger) does not finish in time.
type TimeoutError struct {
	Msg string
}

func (err TimeoutError) Error() string {
	return err.Msg
}

func (err TimeoutError) MarshalJSON() ([]byte, error) {
	if err.Msg != "" {
		return sonic.Marshal(err.Msg)
	}
	return sonic.Marshal(nil)
}

// -----------------

func IsInputError(err error) bool {
	var tErr InputError
	return errors.As(err, &tErr)
}

func PanicValueToErr(v any) (err error) {
	switch tr := v.(type) {
	case error:
		err = fmt.Errorf("recovered panic: %w", tr)
	case string:
		err = fmt.Errorf("recovered panic: %s", tr)
	default:
		err = fmt.Errorf("recovered panic from an error of type %T", v)
	}
	return
}
