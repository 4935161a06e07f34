package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// PublishProperties holds the MQTT 5.0 PUBLISH property set this broker
// understands (spec.md §3). Any other property identifier on an inbound
// PUBLISH is rejected fail-closed.
type PublishProperties struct {
	HasPayloadFormat   bool
	PayloadFormat      uint8
	HasMessageExpiry   bool
	MessageExpiry      uint32
	HasContentType     bool
	ContentType        []byte
	HasResponseTopic   bool
	ResponseTopic      []byte
	HasCorrelationData bool
	CorrelationData    []byte
	HasTopicAlias      bool
	TopicAlias         uint16
	SubscriptionIDs    []int
}

// AddSubscriptionID appends id to the property's subscription-identifier
// list if it isn't already present and there's room, mirroring the
// deduplicating append in the original fan-out path.
func (p *PublishProperties) AddSubscriptionID(id int) {
	if id < 0 || len(p.SubscriptionIDs) >= MaxSubscriptionIDs {
		return
	}
	for _, existing := range p.SubscriptionIDs {
		if existing == id {
			return
		}
	}
	p.SubscriptionIDs = append(p.SubscriptionIDs, id)
}

// readPublishProperties decodes exactly length bytes of PUBLISH properties.
// Unknown property identifiers fail closed per spec.md §4.4.
func readPublishProperties(buf *buffer.Buffer, length int) (PublishProperties, error) {
	var props PublishProperties
	consumed := 0

	for consumed < length {
		id, err := buf.ReadUint8()
		if err != nil {
			return props, ErrMalformed
		}
		consumed++

		switch id {
		case PropPayloadFormatIndicator:
			v, err := buf.ReadUint8()
			if err != nil {
				return props, ErrMalformed
			}
			props.HasPayloadFormat = true
			props.PayloadFormat = v
			consumed++

		case PropMessageExpiryInterval:
			v, err := buf.ReadUint32()
			if err != nil {
				return props, ErrMalformed
			}
			props.HasMessageExpiry = true
			props.MessageExpiry = v
			consumed += 4

		case PropContentType:
			s, err := buf.ReadString()
			if err != nil {
				return props, ErrMalformed
			}
			props.HasContentType = true
			props.ContentType = s
			consumed += 2 + len(s)

		case PropResponseTopic:
			s, err := buf.ReadString()
			if err != nil {
				return props, ErrMalformed
			}
			props.HasResponseTopic = true
			props.ResponseTopic = s
			consumed += 2 + len(s)

		case PropCorrelationData:
			s, err := buf.ReadString()
			if err != nil {
				return props, ErrMalformed
			}
			props.HasCorrelationData = true
			props.CorrelationData = s
			consumed += 2 + len(s)

		case PropTopicAlias:
			v, err := buf.ReadUint16()
			if err != nil {
				return props, ErrMalformed
			}
			props.HasTopicAlias = true
			props.TopicAlias = v
			consumed += 2

		case PropSubscriptionIdentifier:
			subID, n, err := ReadVariableLength(buf)
			if err != nil {
				return props, ErrMalformed
			}
			if len(props.SubscriptionIDs) >= MaxSubscriptionIDs {
				return props, ErrMalformed
			}
			props.SubscriptionIDs = append(props.SubscriptionIDs, subID)
			consumed += n

		default:
			return props, ErrMalformed
		}
	}

	return props, nil
}

// propertiesLength returns the wire length (excluding its own length
// prefix) of the property set that would be written for props.
func propertiesLength(props *PublishProperties) int {
	length := 0
	if props.HasPayloadFormat {
		length += 2
	}
	if props.HasMessageExpiry {
		length += 1 + 4
	}
	if props.HasContentType {
		length += 1 + 2 + len(props.ContentType)
	}
	if props.HasResponseTopic {
		length += 1 + 2 + len(props.ResponseTopic)
	}
	if props.HasCorrelationData {
		length += 1 + 2 + len(props.CorrelationData)
	}
	if props.HasTopicAlias {
		length += 1 + 2
	}
	for _, id := range props.SubscriptionIDs {
		length += 1 + EncodedLength(id)
	}
	return length
}

// writePublishProperties writes the property set in the same order
// propertiesLength assumes.
func writePublishProperties(buf *buffer.Buffer, props *PublishProperties) error {
	if props.HasPayloadFormat {
		buf.WriteUint8(PropPayloadFormatIndicator)
		buf.WriteUint8(props.PayloadFormat)
	}
	if props.HasMessageExpiry {
		buf.WriteUint8(PropMessageExpiryInterval)
		buf.WriteUint32(props.MessageExpiry)
	}
	if props.HasContentType {
		buf.WriteUint8(PropContentType)
		buf.WriteString(props.ContentType)
	}
	if props.HasResponseTopic {
		buf.WriteUint8(PropResponseTopic)
		buf.WriteString(props.ResponseTopic)
	}
	if props.HasCorrelationData {
		buf.WriteUint8(PropCorrelationData)
		buf.WriteString(props.CorrelationData)
	}
	if props.HasTopicAlias {
		buf.WriteUint8(PropTopicAlias)
		buf.WriteUint16(props.TopicAlias)
	}
	for _, id := range props.SubscriptionIDs {
		buf.WriteUint8(PropSubscriptionIdentifier)
		if _, err := WriteVariableLength(buf, id); err != nil {
			return err
		}
	}
	return nil
}
