// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/H2WO4/project-m101/internal/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/iancoleman/strcase"
)

type logger struct{ log.Logger }

// Packet logs an MQTT packet field by field at debug level.
func (l logger) Packet(ctx context.Context, name string, packet any) {
	// Reflection is expensive; bail out if nobody will see it.
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}

	val := realValue(reflect.ValueOf(packet))
	if val.Kind() != reflect.Struct {
		return
	}
	l.Log(ctx, slog.LevelDebug, name, reflectAttrs(val)...)
}

func reflectAttrs(val reflect.Value) []slog.Attr {
	typ := val.Type()
	var attrs []slog.Attr
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		attrs = append(attrs, reflectAttr(
			strcase.ToSnake(f.Name),
			realValue(val.Field(i)),
		)...)
	}
	return attrs
}

func reflectAttr(name string, val reflect.Value) []slog.Attr {
	// Zero values only add noise.
	if val.Kind() == reflect.Invalid || val.IsZero() {
		return nil
	}

	switch name {
	case "properties":
		return reflectAttrs(val)

	// Resubscription batches every filter into one packet.
	case "subscriptions":
		if subs, ok := val.Interface().([]paho.SubscribeOptions); ok && len(subs) > 0 {
			topics := make([]string, len(subs))
			for i, s := range subs {
				topics[i] = s.Topic
			}
			return []slog.Attr{
				slog.Any("topics", topics),
				slog.Any("qos", subs[0].QoS),
			}
		}

	case "qo_s":
		return []slog.Attr{slog.Any("qos", val.Interface())}

	// Never log credentials.
	case "password":
		return []slog.Attr{slog.String(name, "***")}
	}

	switch v := val.Interface().(type) {
	case []byte:
		return []slog.Attr{slog.Int(name+"_len", len(v))}

	case paho.UserProperties:
		if len(v) == 0 {
			return nil
		}
		attrs := make([]any, len(v))
		for i, p := range v {
			attrs[i] = slog.String(p.Key, p.Value)
		}
		return []slog.Attr{slog.Group(name, attrs...)}
	}

	if val.Kind() == reflect.Struct {
		as := reflectAttrs(val)
		if len(as) == 0 {
			return nil
		}
		group := make([]any, len(as))
		for i, a := range as {
			group[i] = a
		}
		return []slog.Attr{slog.Group(name, group...)}
	}

	return []slog.Attr{slog.Any(name, val.Interface())}
}

func realValue(val reflect.Value) reflect.Value {
	for val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	return val
}
