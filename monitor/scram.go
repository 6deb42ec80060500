package monitor

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/xdg-go/scram"
)

var (
	scramSHA256 scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }
	scramSHA512 scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }
)

// xdgSCRAMClient adapts xdg-go/scram to sarama's SCRAMClient interface.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	hashGeneratorFcn scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.hashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (response string, err error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
