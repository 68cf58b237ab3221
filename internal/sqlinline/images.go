package sqlinline

const QInsertImage = `--sql c174eb19-338b-49e8-ac8a-38db05a63af4
insert into images (
    id,
    product_id,
    type,
    bucket,
    path,
    quality_score,
    created_by,
    created_at
)
values (
    gen_random_uuid(),
    $1::text,
    $2::text,
    $3::text,
    $4::text,
    $5::int,
    $6::text,
    now()
)
returning id::text, created_at;
`

const QListImagesByProduct = `--sql 0f5ade99-f96b-4b9a-9f0e-13766c1375e1
select
    id::text,
    product_id,
    type,
    bucket,
    path,
    quality_score,
    created_by,
    created_at
from images
where product_id = $1::text
order by created_at asc;
`
