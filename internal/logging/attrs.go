package logging

import "log/slog"

func Item[T ~string](id T) slog.Attr {
	return slog.String("item", string(id))
}

func Cluster[T ~string](c T) slog.Attr {
	return slog.String("cluster", string(c))
}

func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

func Path(p string) slog.Attr {
	return slog.String("path", p)
}

func Tx(key interface{ String() string }) slog.Attr {
	return slog.String("tx", key.String())
}

func Transition(id int) slog.Attr {
	return slog.Int("transition", id)
}

func EventID(id int) slog.Attr {
	return slog.Int("event_id", id)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("err", msg)
}
