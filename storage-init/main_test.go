package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

func TestHasErrorCode(t *testing.T) {
	exists := &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists)}
	if !hasErrorCode(exists, string(aztables.TableAlreadyExists)) {
		t.Fatalf("expected table-exists code to match")
	}
	if !hasErrorCode(fmt.Errorf("create: %w", &azcore.ResponseError{ErrorCode: queueAlreadyExists}), queueAlreadyExists) {
		t.Fatalf("expected wrapped queue-exists code to match")
	}
	if hasErrorCode(exists, queueAlreadyExists) {
		t.Fatalf("codes must not cross-match")
	}
	if hasErrorCode(errors.New("boom"), queueAlreadyExists) {
		t.Fatalf("plain errors must not match")
	}
}

func TestCreateSkipsEmptyNames(t *testing.T) {
	if err := createQueues(t.Context(), "unused", []string{""}); err != nil {
		t.Fatalf("createQueues: %v", err)
	}
}
