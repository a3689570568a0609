package erc20

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestMultiSendPackUnpack(t *testing.T) {
	calls := []InnerCall{
		{
			Operation: 0,
			To:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Value:     big.NewInt(0),
			Data:      []byte{0x09, 0x5e, 0xa7, 0xb3, 0x01, 0x02},
		},
		{
			Operation: 0,
			To:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Value:     big.NewInt(7),
			Data:      nil,
		},
	}

	unpacked, err := UnpackMultiSendCalls(PackMultiSendCalls(calls))
	require.NoError(t, err)
	require.Len(t, unpacked, 2)
	require.Equal(t, calls[0].To, unpacked[0].To)
	require.Equal(t, calls[0].Data, unpacked[0].Data)
	require.Zero(t, unpacked[1].Value.Cmp(big.NewInt(7)))
	require.Empty(t, unpacked[1].Data)
}

func TestUnpackMultiSendTruncated(t *testing.T) {
	packed := PackMultiSendCalls([]InnerCall{{
		To:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Data: []byte{0x01, 0x02, 0x03},
	}})

	_, err := UnpackMultiSendCalls(packed[:len(packed)-1])
	require.Error(t, err)

	_, err = UnpackMultiSendCalls(packed[:10])
	require.Error(t, err)
}

func TestTopicAddressRoundTrip(t *testing.T) {
	address := common.HexToAddress("0xAbCdEf0123456789aBcDef0123456789AbCdEf01")
	topic := TopicFromAddress(address)

	// Low 20 bytes hold the address, the leading 12 bytes are zero.
	require.Equal(t, make([]byte, 12), topic.Bytes()[:12])
	require.Equal(t, address, AddressFromTopic(topic))
}

func TestApprovalTopic(t *testing.T) {
	topic, err := ApprovalTopic()
	require.NoError(t, err)
	// keccak256("Approval(address,address,uint256)")
	require.Equal(t,
		"0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925",
		topic.Hex())
}
