package grpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName  = "aipp.broker.v1.Broker"
	invokeMethod = "/" + serviceName + "/Invoke"

	fieldGenericable = "genericable_id"
	fieldFitable     = "fitable_id"
	fieldArgs        = "args"
)

func encodeRequest(genericableID, fitableID string, args map[string]any) (*structpb.Struct, error) {
	argsStruct := &structpb.Struct{}
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
		if err := argsStruct.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldGenericable: structpb.NewStringValue(genericableID),
		fieldFitable:     structpb.NewStringValue(fitableID),
		fieldArgs:        structpb.NewStructValue(argsStruct),
	}}, nil
}

func decodeRequest(in *structpb.Struct) (genericableID, fitableID string, args map[string]any, err error) {
	fields := in.GetFields()
	genericableID = fields[fieldGenericable].GetStringValue()
	fitableID = fields[fieldFitable].GetStringValue()
	if genericableID == "" || fitableID == "" {
		return "", "", nil, errors.New("genericable_id and fitable_id are required")
	}
	if s := fields[fieldArgs].GetStructValue(); s != nil {
		args = s.AsMap()
	}
	return genericableID, fitableID, args, nil
}

func encodeResult(raw json.RawMessage) (*structpb.Value, error) {
	v := &structpb.Value{}
	if len(raw) == 0 {
		return structpb.NewNullValue(), nil
	}
	if err := v.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return v, nil
}

func decodeResult(v *structpb.Value) (json.RawMessage, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return raw, nil
}
