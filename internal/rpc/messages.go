package rpc

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ProcessMethod is the full gRPC method name of the denoise call.
const ProcessMethod = "/ddn.DeepDenoise/Process"

// ProcessRequest mirrors ddn.ProcessRequest.
type ProcessRequest struct {
	InputKey  string `json:"input_key"`
	OutputKey string `json:"output_key"`
	Model     string `json:"model"`
	Width     int32  `json:"width"`
	Height    int32  `json:"height"`
	UsingBits int32  `json:"using_bits"`
}

// ProcessReply mirrors ddn.ProcessReply.
type ProcessReply struct {
	OutputKey string `json:"output_key"`
	OutputURL string `json:"output_url"`
	Status    string `json:"status"`
}

// descriptors of ddn/denoise.proto:
//
//	message ProcessRequest { string input_key = 1; string output_key = 2; string model = 3;
//	                         int32 width = 4; int32 height = 5; int32 using_bits = 6; }
//	message ProcessReply   { string output_key = 1; string output_url = 2; string status = 3; }
//	service DeepDenoise    { rpc Process(ProcessRequest) returns (ProcessReply); }
var (
	descOnce  sync.Once
	descErr   error
	reqDesc   protoreflect.MessageDescriptor
	replyDesc protoreflect.MessageDescriptor
)

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func loadDescriptors() error {
	descOnce.Do(func() {
		str := descriptorpb.FieldDescriptorProto_TYPE_STRING
		i32 := descriptorpb.FieldDescriptorProto_TYPE_INT32

		fdp := &descriptorpb.FileDescriptorProto{
			Name:    proto.String("ddn/denoise.proto"),
			Package: proto.String("ddn"),
			Syntax:  proto.String("proto3"),
			MessageType: []*descriptorpb.DescriptorProto{
				{
					Name: proto.String("ProcessRequest"),
					Field: []*descriptorpb.FieldDescriptorProto{
						field("input_key", 1, str),
						field("output_key", 2, str),
						field("model", 3, str),
						field("width", 4, i32),
						field("height", 5, i32),
						field("using_bits", 6, i32),
					},
				},
				{
					Name: proto.String("ProcessReply"),
					Field: []*descriptorpb.FieldDescriptorProto{
						field("output_key", 1, str),
						field("output_url", 2, str),
						field("status", 3, str),
					},
				},
			},
			Service: []*descriptorpb.ServiceDescriptorProto{
				{
					Name: proto.String("DeepDenoise"),
					Method: []*descriptorpb.MethodDescriptorProto{
						{
							Name:       proto.String("Process"),
							InputType:  proto.String(".ddn.ProcessRequest"),
							OutputType: proto.String(".ddn.ProcessReply"),
						},
					},
				},
			},
		}

		fd, err := protodesc.NewFile(fdp, nil)
		if err != nil {
			descErr = fmt.Errorf("build ddn descriptors: %w", err)
			return
		}
		reqDesc = fd.Messages().ByName("ProcessRequest")
		replyDesc = fd.Messages().ByName("ProcessReply")
	})
	return descErr
}

func (r ProcessRequest) toMessage() (*dynamicpb.Message, error) {
	if err := loadDescriptors(); err != nil {
		return nil, err
	}
	m := dynamicpb.NewMessage(reqDesc)
	f := reqDesc.Fields()
	m.Set(f.ByName("input_key"), protoreflect.ValueOfString(r.InputKey))
	m.Set(f.ByName("output_key"), protoreflect.ValueOfString(r.OutputKey))
	m.Set(f.ByName("model"), protoreflect.ValueOfString(r.Model))
	m.Set(f.ByName("width"), protoreflect.ValueOfInt32(r.Width))
	m.Set(f.ByName("height"), protoreflect.ValueOfInt32(r.Height))
	m.Set(f.ByName("using_bits"), protoreflect.ValueOfInt32(r.UsingBits))
	return m, nil
}

func newReplyMessage() (*dynamicpb.Message, error) {
	if err := loadDescriptors(); err != nil {
		return nil, err
	}
	return dynamicpb.NewMessage(replyDesc), nil
}

func replyFromMessage(m protoreflect.Message) ProcessReply {
	f := m.Descriptor().Fields()
	return ProcessReply{
		OutputKey: m.Get(f.ByName("output_key")).String(),
		OutputURL: m.Get(f.ByName("output_url")).String(),
		Status:    m.Get(f.ByName("status")).String(),
	}
}
