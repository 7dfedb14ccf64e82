package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorAdminRequired = errors.New("admin privilege required")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
